// Package sweeper implements idle-session eviction: a background loop that
// periodically scans the session registry and closes sessions that have not
// seen activity within the configured timeout. Grounded on the original
// service's SessionManager.cleanup_stale_sessions (sleep 60s, snapshot,
// evict past SESSION_TIMEOUT, best-effort close of attached endpoints).
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/ratelimit"
	"github.com/wilsonzlin/filerelay/internal/relay"
)

const defaultInterval = 60 * time.Second

// Sweeper periodically evicts sessions idle past Timeout. It is built on the
// ratelimit.Clock abstraction so tests can advance a fake clock and call Tick
// directly instead of waiting on a real ticker.
type Sweeper struct {
	registry *relay.SessionRegistry
	metrics  *metrics.Metrics
	clock    ratelimit.Clock
	log      *slog.Logger

	Timeout  time.Duration
	Interval time.Duration
}

func New(registry *relay.SessionRegistry, m *metrics.Metrics, clock ratelimit.Clock, log *slog.Logger, timeout time.Duration) *Sweeper {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		registry: registry,
		metrics:  m,
		clock:    clock,
		log:      log,
		Timeout:  timeout,
		Interval: defaultInterval,
	}
}

// Run blocks, ticking every s.Interval and calling Tick, until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick performs a single eviction pass: every session whose last activity is
// older than s.Timeout is closed. Closing a session best-effort closes its
// attached sender/receiver/peer endpoints before removing it from the
// registry (via Session.Close's onClose callback).
func (s *Sweeper) Tick() {
	if s.Timeout <= 0 {
		return
	}
	now := s.clock.Now()

	s.registry.ForEach(func(sess *relay.Session) {
		if now.Sub(sess.LastActivity()) <= s.Timeout {
			return
		}

		if ep, _, ok := sess.Sender(); ok {
			_ = ep.Close()
		}
		if ep, _, ok := sess.Receiver(); ok {
			_ = ep.Close()
		}
		for _, ep := range sess.Peers() {
			_ = ep.Close()
		}

		sess.Close()
		if s.metrics != nil {
			s.metrics.Inc(metrics.SweeperEvictionsTotal)
		}
		s.log.Info("sweeper evicted idle session", "session_id", sess.ID())
	})
}
