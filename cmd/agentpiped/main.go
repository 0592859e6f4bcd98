// Command agentpiped wires the Queue Manager, Middleware, and Process
// Manager into one running pipeline and serves the MCP tool dispatcher on
// top of it. It is deliberately not a general-purpose CLI: a handful of
// startup flags, no subcommand routing (SPEC_FULL.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilnforge/agentpipe/internal/mcp"
	"github.com/kilnforge/agentpipe/internal/orchlog"
	"github.com/kilnforge/agentpipe/internal/persistence/sqlite"
	"github.com/kilnforge/agentpipe/internal/pipeline/middleware"
	"github.com/kilnforge/agentpipe/internal/pipeline/procmgr"
	"github.com/kilnforge/agentpipe/internal/pipeline/queuemgr"
	"github.com/kilnforge/agentpipe/internal/pipeline/state"
	"github.com/kilnforge/agentpipe/internal/projectcmd"
	"github.com/kilnforge/agentpipe/internal/telemetry"
)

func main() {
	var (
		dbPath        = flag.String("db", "agentpipe.db", "path to the sqlite database backing messages and events")
		logPath       = flag.String("log", "", "path to the structured log file (disabled if empty)")
		httpAddr      = flag.String("http-addr", "", "address to serve MCP over HTTP+SSE on (stdio only if empty)")
		sessionTTL    = flag.Duration("session-ttl", mcp.DefaultSessionTTL, "MCP session idle TTL")
		workspaceRoot = flag.String("workspace", ".", "workspace root for git/project-command tools")
		commandsFile  = flag.String("commands", "", "path to the project-commands YAML file (disabled if empty)")
		traceFile     = flag.String("trace-file", "", "path to write JSONL traces (disabled if empty)")
	)
	flag.Parse()

	if err := run(*dbPath, *logPath, *httpAddr, *sessionTTL, *workspaceRoot, *commandsFile, *traceFile); err != nil {
		fmt.Fprintln(os.Stderr, "agentpiped:", err)
		os.Exit(1)
	}
}

func run(dbPath, logPath, httpAddr string, sessionTTL time.Duration, workspaceRoot, commandsFile, traceFile string) error {
	if logPath != "" {
		cleanup, err := orchlog.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
	} else {
		orchlog.InitDiscard()
	}

	tracingCfg := telemetry.DefaultConfig()
	if traceFile != "" {
		tracingCfg.Enabled = true
		tracingCfg.Exporter = "file"
		tracingCfg.FilePath = traceFile
	}
	tracerProvider, err := telemetry.NewProvider(tracingCfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	db, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := state.NewQueueCoordinator()
	strategy := state.NewStrategyState()

	mw := middleware.New()
	pm := procmgr.New(mw)
	qm := queuemgr.New(
		mw,
		sqlite.NewMessageRepository(db),
		coordinator,
		queuemgr.WithEventSink(sqlite.NewEventSink(db)),
		queuemgr.WithTracer(tracerProvider.Tracer()),
	)

	orchlog.SafeGo("middleware.run", func() { mw.Run(ctx) })
	orchlog.SafeGo("procmgr.run", func() { pm.Run(ctx) })
	orchlog.SafeGo("queuemgr.run", func() { qm.Run(ctx) })

	if err := qm.WaitForReady(ctx); err != nil {
		return fmt.Errorf("waiting for queue manager: %w", err)
	}
	if err := pm.WaitForReady(ctx); err != nil {
		return fmt.Errorf("waiting for process manager: %w", err)
	}

	registry := mcp.NewRegistry()
	mcp.RegisterTaskTools(registry, mcp.NewTaskStore(), strategy)
	mcp.RegisterGitTools(registry, workspaceRoot)

	if commandsFile != "" {
		cmdRegistry, err := projectcmd.Load(commandsFile)
		if err != nil {
			return fmt.Errorf("loading project commands: %w", err)
		}
		defer func() { _ = cmdRegistry.Close() }()
		mcp.RegisterProjectCommandTools(registry, cmdRegistry, workspaceRoot)
	}

	server := mcp.NewServer("agentpiped", "0.1.0", registry, sessionTTL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	if httpAddr != "" {
		httpServer := &http.Server{Addr: httpAddr, Handler: server.HTTPHandler()}
		orchlog.SafeGo("mcp.http", func() {
			orchlog.Info(orchlog.CatMCP, "serving MCP over HTTP+SSE", "addr", httpAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		})
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	} else {
		orchlog.SafeGo("mcp.stdio", func() {
			orchlog.Info(orchlog.CatMCP, "serving MCP over stdio")
			if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
				errCh <- err
			}
		})
	}

	select {
	case sig := <-sigCh:
		orchlog.Info(orchlog.CatMCP, "received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			cancel()
			return fmt.Errorf("mcp server error: %w", err)
		}
	case <-ctx.Done():
	}

	cancel()
	return nil
}
