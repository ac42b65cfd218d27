// Package connhandler upgrades HTTP requests to WebSocket connections and
// runs the sender/receiver/peer state machines against a session, bridging
// the transport (gorilla/websocket, chi URL params) to the transport-free
// internal/relay package.
package connhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/filerelay/internal/config"
	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/relay"
	"github.com/wilsonzlin/filerelay/internal/throttle"
)

// rendezvousTimeout bounds how long a lone sender waits for a receiver
// before the session is abandoned. Matches the original service's
// hardcoded 300-second rendezvous window.
const rendezvousTimeout = 300 * time.Second

// rendezvousPollInterval is the read-deadline granularity used while
// waiting for rendezvous; it doubles as the interval at which a sender's
// disconnect is noticed.
const rendezvousPollInterval = 1 * time.Second

// speedUpdateInterval is the minimum gap between speed_update frames sent
// back to an uploading party.
const speedUpdateInterval = 1 * time.Second

// Handler upgrades incoming requests on /ws/{sessionID}/{role}/{userID} and
// dispatches to the role-specific state machine. It owns per-user
// throttling and registry lookups; internal/relay and internal/throttle
// know nothing about HTTP or WebSocket framing.
type Handler struct {
	cfg      config.Config
	registry *relay.SessionRegistry
	throttle *throttle.Throttle
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, registry *relay.SessionRegistry, th *throttle.Throttle, m *metrics.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		cfg:      cfg,
		registry: registry,
		throttle: th,
		metrics:  m,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Origin is enforced by httpserver's origin middleware earlier in
			// the chain; the upgrader does not duplicate the check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	role := chi.URLParam(r, "role")
	userID := chi.URLParam(r, "userID")
	connID := uuid.NewString()
	log := h.log.With("session_id", sessionID, "role", role, "user_id", userID, "conn_id", connID)

	if sessionID == "" || userID == "" {
		http.Error(w, "session id and user id are required", http.StatusBadRequest)
		return
	}
	if role != RoleSender && role != RoleReceiver && role != RolePeer {
		h.metrics.Inc(metrics.ConnectionsRejectedRole)
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.metrics.Inc(metrics.ConnectionsAcceptedTotal)
	defer h.metrics.Inc(metrics.ConnectionsClosedTotal)

	ep := newEndpoint(conn)

	// Throttle and capacity rejections are delivered as a terminal error
	// frame over the now-upgraded connection, not a pre-upgrade HTTP status:
	// a WebSocket client only ever observes frames, never HTTP status codes,
	// once it has sent the upgrade request.
	if !h.throttle.TryAcquire(userID) {
		h.metrics.Inc(metrics.ConnectionsRejectedThrottle)
		_ = ep.SendJSON(errorPayload("Too many connections"))
		return
	}
	defer h.throttle.Release(userID)

	session, err := h.registry.GetOrCreate(sessionID)
	if err != nil {
		_ = ep.SendJSON(errorPayload("Server at capacity"))
		return
	}

	session.UpdateActivity()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("connection handler panic", "panic", rec, "stack", string(debug.Stack()))
			_ = ep.SendJSON(errorPayload(fmt.Sprint(rec)))
		}
	}()

	if h.cfg.PingInterval > 0 {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go h.pingLoop(ctx, ep, h.cfg.PingInterval)
	}

	switch role {
	case RoleSender:
		h.handleSender(conn, ep, session, userID, log)
	case RoleReceiver:
		h.handleReceiver(conn, ep, session, userID, log)
	case RolePeer:
		h.handlePeer(conn, ep, session, userID, log)
	}
}

// pingLoop writes a {"type":"ping"} keepalive frame every interval until ctx
// is cancelled or a write fails (the connection is gone). The client is
// expected to answer with a pong control frame, which refreshes the
// session's activity deadline the same as any other frame.
func (h *Handler) pingLoop(ctx context.Context, ep relay.Endpoint, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.SendJSON(typedPayload(outPing, nil)); err != nil {
				return
			}
		}
	}
}

func parseControlMessage(data []byte) (controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlMessage{}, err
	}
	return msg, nil
}
