package mcp

import (
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long an idle session remains valid.
const DefaultSessionTTL = 30 * time.Minute

// sessionCleanupInterval controls how often go-cache sweeps expired entries.
const sessionCleanupInterval = 5 * time.Minute

// Session is one MCP client's identity: its role (which gates tool
// visibility) and the agent label it authenticated as.
type Session struct {
	ID        string
	Role      AgentRole
	Label     string
	CreatedAt time.Time
}

// SessionManager issues and validates sessions, backed by an in-memory
// TTL cache so idle sessions expire without an explicit close call.
type SessionManager struct {
	cache *cache.Cache
}

// NewSessionManager constructs a SessionManager with the given TTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{cache: cache.New(ttl, sessionCleanupInterval)}
}

// Open creates a new session for the given agent label, resolving its role.
// Returns false if label does not resolve to a known role.
func (sm *SessionManager) Open(label string) (Session, bool) {
	role, ok := ResolveAgentRole(label)
	if !ok {
		return Session{}, false
	}
	sess := Session{
		ID:        uuid.NewString(),
		Role:      role,
		Label:     label,
		CreatedAt: time.Now(),
	}
	sm.cache.SetDefault(sess.ID, sess)
	return sess, true
}

// Lookup retrieves a session by id and refreshes its TTL. Returns false if
// the id is unknown or has expired.
func (sm *SessionManager) Lookup(id string) (Session, bool) {
	v, ok := sm.cache.Get(id)
	if !ok {
		return Session{}, false
	}
	sess := v.(Session)
	sm.cache.SetDefault(id, sess) // touch: extend TTL on use
	return sess, true
}

// Close invalidates a session immediately.
func (sm *SessionManager) Close(id string) {
	sm.cache.Delete(id)
}

// Count returns the number of currently live sessions. Intended for tests
// and diagnostics.
func (sm *SessionManager) Count() int {
	return sm.cache.ItemCount()
}
