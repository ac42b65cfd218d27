package relay

import (
	"sync"

	"github.com/wilsonzlin/filerelay/internal/config"
	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/ratelimit"
)

// SessionRegistry tracks all in-flight sessions keyed by caller-supplied
// session id, bounded at cfg.MaxSessions. Unlike the teacher's
// SessionManager, this registry never allocates session ids itself: the
// session id is part of the WebSocket upgrade path
// (GET /ws/{sessionID}/{role}/{userID}) and is supplied by whichever
// endpoint connects first.
type SessionRegistry struct {
	cfg     config.Config
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionRegistry(cfg config.Config, m *metrics.Metrics, clock ratelimit.Clock) *SessionRegistry {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &SessionRegistry{
		cfg:      cfg,
		metrics:  m,
		clock:    clock,
		sessions: make(map[string]*Session),
	}
}

func (r *SessionRegistry) Metrics() *metrics.Metrics { return r.metrics }

// Count returns the current number of tracked sessions.
//
// Primarily intended for tests and observability; callers should not rely on
// this for synchronization.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// GetOrCreate returns the existing session for id, or creates one if none
// exists. It enforces cfg.MaxSessions only on the creation path: a session
// that already exists may always be rejoined (by a second role attaching)
// even when the registry is at capacity.
func (r *SessionRegistry) GetOrCreate(id string) (*Session, error) {
	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.metrics.Inc(metrics.CounterCapacityRejected)
		r.mu.Unlock()
		return nil, ErrCapacityExceeded
	}

	session := newSession(id, r.cfg, r.metrics, r.clock, func() {
		r.remove(id)
	})
	r.sessions[id] = session
	r.metrics.Inc(metrics.CounterSessionsCreated)
	r.mu.Unlock()
	return session, nil
}

// Get returns the session for id without creating one.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove evicts the session for id, if present. It does not close the
// session itself; callers that want teardown semantics should call
// Session.Close, whose onClose callback calls this.
func (r *SessionRegistry) Remove(id string) {
	r.remove(id)
}

func (r *SessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.metrics.Inc(metrics.CounterSessionsEvicted)
}

// Snapshot returns a summary of every currently tracked session, used by the
// /api/sessions endpoint.
func (r *SessionRegistry) Snapshot() []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Summary, len(sessions))
	for i, s := range sessions {
		out[i] = s.Snapshot()
	}
	return out
}

// ForEach invokes fn for every currently tracked session. fn is called
// outside the registry's lock, so it is safe for fn to call back into
// registry methods (e.g. Remove via Session.Close).
func (r *SessionRegistry) ForEach(fn func(*Session)) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		fn(s)
	}
}
