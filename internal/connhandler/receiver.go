package connhandler

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/relay"
)

// handleReceiver runs the receiver state machine. A receiver never reads
// binary frames itself: transfer payload reaches it exclusively through the
// sender handler pushing bytes onto its Endpoint. Its read loop only ever
// sees chat/typing/pong text frames. On disconnect the receiver clears only
// its own slot; it never tears the session down, so a sender mid-transfer
// can keep running and a new receiver can reattach later.
func (h *Handler) handleReceiver(conn *websocket.Conn, ep *wsEndpoint, session *relay.Session, userID string, log *slog.Logger) {
	if err := session.AttachReceiver(ep, userID); err != nil {
		_ = ep.SendJSON(errorPayload("a receiver is already connected to this session"))
		return
	}
	defer session.DetachReceiver()

	_ = ep.SendJSON(statusPayload(outConnected, map[string]any{
		"metadata":     session.Metadata(),
		"chat_history": session.Messages(),
	}))

	if sender, _, ok := session.Sender(); ok {
		_ = sender.SendJSON(typedPayload(outReceiverConnected, map[string]any{"user_id": userID}))
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.UpdateActivity()

		if msgType != websocket.TextMessage {
			h.metrics.Inc(metrics.ControlFramesDropped)
			continue
		}
		h.handleReceiverControl(session, userID, data, log)
	}
}

func (h *Handler) handleReceiverControl(session *relay.Session, userID string, data []byte, log *slog.Logger) {
	msg, err := parseControlMessage(data)
	if err != nil {
		h.metrics.Inc(metrics.ControlFramesDropped)
		log.Debug("dropping malformed control frame", "error", err)
		return
	}

	switch msg.Type {
	case inChat:
		entry := session.AddMessage(RoleReceiver, msg.Message)
		h.metrics.Inc(metrics.ChatMessagesTotal)
		if sender, _, ok := session.Sender(); ok {
			_ = sender.SendJSON(typedPayload(outChat, map[string]any{
				"data": map[string]any{
					"sender":    entry.Sender,
					"message":   entry.Message,
					"timestamp": entry.Timestamp,
				},
			}))
		}

	case inTyping:
		if sender, _, ok := session.Sender(); ok {
			_ = sender.SendJSON(typedPayload(outTyping, map[string]any{"sender": RoleReceiver}))
		}

	case inPong:
		// Keepalive round trip; UpdateActivity already ran for this frame.

	default:
		h.metrics.Inc(metrics.ControlFramesDropped)
	}
}
