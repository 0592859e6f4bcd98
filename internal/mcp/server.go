package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kilnforge/agentpipe/internal/orchlog"
)

// keepAliveInterval is how often the SSE transport sends a comment frame to
// keep intermediaries from closing an idle connection.
const keepAliveInterval = 15 * time.Second

// Server dispatches JSON-RPC 2.0 requests against a role-gated tool
// Registry, over either a single stdio connection or HTTP+SSE. Grounded on
// the teacher's mcp.Server (protocol.go/server.go run loop), generalized
// from a fixed coordinator/worker tool set to registry-driven dispatch with
// explicit sessions.
type Server struct {
	info     ImplementationInfo
	registry *Registry
	sessions *SessionManager

	mu          sync.RWMutex
	stdioWriter io.Writer
	// stdioSession is the implicit session for the single stdio connection,
	// established on "initialize" from the client's declared name.
	stdioSession *Session
}

// NewServer constructs a Server around registry, issuing sessions with the
// given TTL (DefaultSessionTTL if ttl <= 0).
func NewServer(name, version string, registry *Registry, ttl time.Duration) *Server {
	return &Server{
		info:     ImplementationInfo{Name: name, Version: version},
		registry: registry,
		sessions: NewSessionManager(ttl),
	}
}

// Serve runs the stdio transport: newline-delimited JSON-RPC over stdin/
// stdout. Blocks until stdin closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	s.mu.Lock()
	s.stdioWriter = stdout
	s.mu.Unlock()

	scanner := bufio.NewScanner(stdin)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeStdio(NewErrorResponse(nil, NewParseError(err.Error())))
			continue
		}

		if isNotification(&req) {
			continue // no notifications defined beyond initialize in this transport
		}
		resp := s.dispatchStdio(ctx, &req)
		s.writeStdio(resp)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcp: reading stdin: %w", err)
	}
	return nil
}

func isNotification(req *Request) bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

// dispatchStdio handles one request against the single implicit stdio
// session, creating it on "initialize".
func (s *Server) dispatchStdio(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		sess, rpcErr := s.currentStdioSession()
		if rpcErr != nil {
			return NewErrorResponse(req.ID, rpcErr)
		}
		return NewResponse(req.ID, ToolsListResult{Tools: s.registry.VisibleTo(ToolContext{Context: ctx, Session: sess})})
	case "tools/call":
		sess, rpcErr := s.currentStdioSession()
		if rpcErr != nil {
			return NewErrorResponse(req.ID, rpcErr)
		}
		return s.handleToolsCall(ctx, req, sess)
	case "notifications/initialized":
		if _, rpcErr := s.currentStdioSession(); rpcErr != nil {
			return NewErrorResponse(req.ID, rpcErr)
		}
		return NewResponse(req.ID, struct{}{})
	case "ping":
		return NewResponse(req.ID, struct{}{})
	default:
		return NewErrorResponse(req.ID, NewMethodNotFound(req.Method))
	}
}

func (s *Server) currentStdioSession() (Session, *RPCError) {
	s.mu.RLock()
	sess := s.stdioSession
	s.mu.RUnlock()
	if sess == nil {
		return Session{}, NewMissingSession()
	}
	return *sess, nil
}

func (s *Server) handleInitialize(req *Request) *Response {
	var p InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return NewErrorResponse(req.ID, NewInvalidParams(err.Error()))
		}
	}

	sess, ok := s.sessions.Open(p.ClientInfo.Name)
	if !ok {
		return NewErrorResponse(req.ID, NewUnauthorized(p.ClientInfo.Name))
	}
	s.mu.Lock()
	s.stdioSession = &sess
	s.mu.Unlock()

	return NewResponse(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapability{Tools: &ToolsCapability{}},
		ServerInfo:      s.info,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request, sess Session) *Response {
	var p ToolCallParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return NewErrorResponse(req.ID, NewInvalidParams(err.Error()))
	}

	result, err := s.registry.Call(ctx, sess, p.Name, p.Arguments)
	switch {
	case err == ErrUnknownTool:
		return NewErrorResponse(req.ID, NewMethodNotFound(p.Name))
	case err == ErrToolNotPermitted:
		return NewErrorResponse(req.ID, NewUnauthorized(p.Name))
	case err != nil:
		orchlog.ErrorErr(orchlog.CatMCP, "tool call failed", err, "tool", p.Name)
		return NewResponse(req.ID, ErrorResult(err.Error()))
	default:
		return NewResponse(req.ID, result)
	}
}

func (s *Server) writeStdio(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		orchlog.ErrorErr(orchlog.CatMCP, "failed to marshal response", err)
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdioWriter == nil {
		return
	}
	if _, err := s.stdioWriter.Write(data); err != nil {
		orchlog.ErrorErr(orchlog.CatMCP, "failed to write response", err)
	}
}

// HTTP transport: per-request sessions identified by the AGENT and
// Mcp-Session-Id headers, with a GET SSE stream on an existing session
// that sends a "ready" event on connect and then a periodic keep-alive
// comment. The stream carries no "message" events: sessions have no
// server-push channel to forward from.
const (
	headerAgent     = "AGENT"
	headerSessionID = "Mcp-Session-Id"
)

// HTTPHandler returns the http.Handler for the HTTP+SSE transport. POST
// carries one or a batch of JSON-RPC requests; GET opens an SSE stream.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handleHTTPPost(w, r)
		case http.MethodGet:
			s.handleHTTPStream(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

// sessionFromHeaders resolves the calling session. allowCreate must be true
// only for an "initialize" call: every other method must carry a known
// Mcp-Session-Id, missing → -32002, unknown → -32004. The AGENT header is
// only ever consulted to mint a session for initialize.
func (s *Server) sessionFromHeaders(r *http.Request, allowCreate bool) (Session, *RPCError) {
	sid := r.Header.Get(headerSessionID)
	if sid == "" {
		if !allowCreate {
			return Session{}, NewMissingSession()
		}
		agent := r.Header.Get(headerAgent)
		if agent == "" {
			return Session{}, NewMissingSession()
		}
		sess, ok := s.sessions.Open(agent)
		if !ok {
			return Session{}, NewUnauthorized(agent)
		}
		return sess, nil
	}
	sess, ok := s.sessions.Lookup(sid)
	if !ok {
		return Session{}, NewUnknownSession(sid)
	}
	return sess, nil
}

// peekMethod extracts just the "method" field, used to decide whether a
// POST body is an initialize call before a session has been resolved.
func peekMethod(raw json.RawMessage) string {
	var probe struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.Method
}

func (s *Server) handleHTTPPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		// Not a batch: treat the whole body as a single request.
		batch = []json.RawMessage{body}
	}

	// initialize is never batched; a session is only minted when the sole
	// request in this POST is that call.
	isInitialize := len(batch) == 1 && peekMethod(batch[0]) == "initialize"

	sess, rpcErr := s.sessionFromHeaders(r, isInitialize)
	if rpcErr != nil {
		w.Header().Set("Content-Type", "application/json")
		data, _ := json.Marshal(NewErrorResponse(nil, rpcErr))
		w.Write(data)
		return
	}

	responses := make([]*Response, 0, len(batch))
	for _, raw := range batch {
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			// Well-formed JSON that is not a request object (e.g. a number
			// inside a batch) is an invalid request, not a parse error.
			rpcErr := NewParseError(err.Error())
			if json.Valid(raw) {
				rpcErr = NewInvalidRequest(err.Error())
			}
			responses = append(responses, NewErrorResponse(nil, rpcErr))
			continue
		}
		if isNotification(&req) {
			continue
		}
		responses = append(responses, s.dispatchHTTP(r.Context(), &req, sess))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(headerSessionID, sess.ID)
	if len(responses) == 0 {
		// Only notifications were posted: nothing to answer.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var payload any = responses
	if len(batch) == 1 && len(responses) == 1 {
		payload = responses[0]
	}
	data, _ := json.Marshal(payload)
	w.Write(data)
}

func (s *Server) dispatchHTTP(ctx context.Context, req *Request, sess Session) *Response {
	switch req.Method {
	case "initialize":
		return NewResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    ServerCapability{Tools: &ToolsCapability{}},
			ServerInfo:      s.info,
		})
	case "tools/list":
		return NewResponse(req.ID, ToolsListResult{Tools: s.registry.VisibleTo(ToolContext{Context: ctx, Session: sess})})
	case "tools/call":
		return s.handleToolsCall(ctx, req, sess)
	case "notifications/initialized":
		return NewResponse(req.ID, struct{}{})
	case "ping":
		return NewResponse(req.ID, struct{}{})
	default:
		return NewErrorResponse(req.ID, NewMethodNotFound(req.Method))
	}
}

func (s *Server) handleHTTPStream(w http.ResponseWriter, r *http.Request) {
	sess, rpcErr := s.sessionFromHeaders(r, false)
	if rpcErr != nil {
		http.Error(w, rpcErr.Message, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(headerSessionID, sess.ID)
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: ready\ndata: %s\n\n", sess.ID)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
