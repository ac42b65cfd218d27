package connhandler

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/relay"
)

// handlePeer runs the N-party peer state machine: every attached peer
// broadcasts chat and binary frames to every other peer in the session.
// Unlike sender/receiver mode, binary forwarding here is never gated by
// session.Paused(); pause/resume is a two-party flow-control concept that
// peer mode does not use. The session tears down only once the last peer
// leaves.
func (h *Handler) handlePeer(conn *websocket.Conn, ep *wsEndpoint, session *relay.Session, userID string, log *slog.Logger) {
	session.AttachPeer(ep, userID)
	peers := session.Peers()
	if len(peers) == 1 {
		session.EnsureStarted()
	}

	defer func() {
		session.DetachPeer(ep)
		remaining := session.Peers()
		h.broadcastToPeers(remaining, typedPayload(outPeerLeft, map[string]any{"user_id": userID}))
		if len(remaining) == 0 {
			session.Close()
		}
	}()

	_ = ep.SendJSON(statusPayload(outConnected, map[string]any{
		"user_id":      userID,
		"peer_count":   len(peers),
		"chat_history": session.Messages(),
	}))
	h.broadcastToPeers(otherPeers(session, ep), typedPayload(outPeerJoined, map[string]any{
		"user_id":    userID,
		"peer_count": len(peers),
	}))

	var lastSpeedUpdate time.Time
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.UpdateActivity()

		switch msgType {
		case websocket.BinaryMessage:
			h.relayPeerBinary(ep, session, data, &lastSpeedUpdate)
		case websocket.TextMessage:
			h.handlePeerControl(ep, session, userID, data, log)
		}
	}
}

func otherPeers(session *relay.Session, self relay.Endpoint) []relay.Endpoint {
	all := session.Peers()
	out := make([]relay.Endpoint, 0, len(all))
	for _, p := range all {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handler) broadcastToPeers(peers []relay.Endpoint, payload map[string]any) {
	for _, p := range peers {
		_ = p.SendJSON(payload)
	}
}

func (h *Handler) relayPeerBinary(ep *wsEndpoint, session *relay.Session, data []byte, lastSpeedUpdate *time.Time) {
	others := otherPeers(session, ep)
	for _, p := range others {
		_ = p.SendBinary(data)
	}

	session.AddBytesTransferred(uint64(len(data)))
	h.metrics.Inc(metrics.FramesRelayedTotal)
	h.metrics.Add(metrics.BytesRelayedTotal, uint64(len(data))*uint64(len(others)))
	h.maybeSendSpeedUpdate(ep, session, lastSpeedUpdate)
}

func (h *Handler) handlePeerControl(ep *wsEndpoint, session *relay.Session, userID string, data []byte, log *slog.Logger) {
	msg, err := parseControlMessage(data)
	if err != nil {
		h.metrics.Inc(metrics.ControlFramesDropped)
		log.Debug("dropping malformed control frame", "error", err)
		return
	}

	switch msg.Type {
	case inChat:
		entry := session.AddMessage(userID, msg.Message)
		h.metrics.Inc(metrics.ChatMessagesTotal)
		h.broadcastToPeers(otherPeers(session, ep), typedPayload(outChat, map[string]any{
			"data": map[string]any{
				"sender":    entry.Sender,
				"message":   entry.Message,
				"timestamp": entry.Timestamp,
			},
		}))

	case inTyping:
		h.broadcastToPeers(otherPeers(session, ep), typedPayload(outTyping, map[string]any{"sender": userID}))

	case inPong:
		// Keepalive round trip; UpdateActivity already ran for this frame.

	default:
		h.metrics.Inc(metrics.ControlFramesDropped)
	}
}
