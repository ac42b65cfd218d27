package metrics

import "sync"

// Session lifecycle counters.
const (
	CounterSessionsCreated  = "sessions_created_total"
	CounterSessionsEvicted  = "sessions_evicted_total"
	CounterCapacityRejected = "capacity_rejected_total"
)

// Connection-level counters.
const (
	ConnectionsAcceptedTotal    = "connections_accepted_total"
	ConnectionsRejectedThrottle = "connections_rejected_throttle_total"
	ConnectionsRejectedRole     = "connections_rejected_role_total"
	ConnectionsClosedTotal      = "connections_closed_total"
)

// Relay traffic counters.
const (
	FramesRelayedTotal   = "frames_relayed_total"
	BytesRelayedTotal    = "bytes_relayed_total"
	ChatMessagesTotal    = "chat_messages_total"
	ControlFramesDropped = "control_frames_dropped_total"
)

// Sweeper counters.
const (
	SweeperEvictionsTotal = "sweeper_evictions_total"
)

// Rendezvous counters.
const (
	RendezvousTimeoutsTotal = "rendezvous_timeouts_total"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// This relay is expected to be scraped directly via PrometheusHandler rather
// than plugging into a heavier client library; this type exists to keep
// enforcement logic testable and to provide the counters above.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if delta == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		cp[k] = v
	}
	return cp
}
