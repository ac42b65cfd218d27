package connhandler

import (
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/relay"
)

// handleSender runs the sender state machine: wait for a receiver to join
// (bounded by rendezvousTimeout), then relay binary frames to it while
// honoring flow-control pause/resume and emitting periodic speed telemetry.
// On disconnect the sender always tears the session down, notifying and
// closing the receiver first — matching the original service's handler,
// where the sender owns the session's lifecycle.
func (h *Handler) handleSender(conn *websocket.Conn, ep *wsEndpoint, session *relay.Session, userID string, log *slog.Logger) {
	if err := session.AttachSender(ep, userID); err != nil {
		_ = ep.SendJSON(errorPayload("a sender is already connected to this session"))
		return
	}

	defer func() {
		session.DetachSender()
		if recv, _, ok := session.Receiver(); ok {
			_ = recv.SendJSON(typedPayload(outTransferComplete, nil))
			_ = recv.Close()
		}
		session.Close()
	}()

	_ = ep.SendJSON(statusPayload(outWaiting, map[string]any{"session_id": session.ID()}))

	if !h.waitForReceiver(conn, session, ep, log) {
		return
	}

	_ = ep.SendJSON(statusPayload(outReady, map[string]any{
		"chat_history": session.Messages(),
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
			h.relaySenderBinary(ep, session, data, &lastSpeedUpdate)
		case websocket.TextMessage:
			h.handleSenderControl(ep, session, userID, data, log)
		}
	}
}

// waitForReceiver polls for a receiver attaching to the session, using the
// connection's read deadline both to pace the poll and to notice the sender
// disconnecting while it waits. Returns false if the wait should end
// without entering the main relay loop (timeout or disconnect).
func (h *Handler) waitForReceiver(conn *websocket.Conn, session *relay.Session, ep *wsEndpoint, log *slog.Logger) bool {
	deadline := time.Now().Add(rendezvousTimeout)
	for {
		if _, _, ok := session.Receiver(); ok {
			_ = conn.SetReadDeadline(time.Time{})
			return true
		}
		if time.Now().After(deadline) {
			h.metrics.Inc(metrics.RendezvousTimeoutsTotal)
			_ = conn.SetReadDeadline(time.Time{})
			_ = ep.SendJSON(errorPayload("no receiver connected in time"))
			return false
		}

		_ = conn.SetReadDeadline(time.Now().Add(rendezvousPollInterval))
		if _, _, err := conn.ReadMessage(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Debug("sender disconnected while waiting for receiver")
			return false
		}
		// Any message received while waiting is discarded; the sender has
		// nothing meaningful to say until a receiver is attached.
	}
}

func (h *Handler) relaySenderBinary(ep *wsEndpoint, session *relay.Session, data []byte, lastSpeedUpdate *time.Time) {
	if session.Paused() {
		h.metrics.Inc(metrics.ControlFramesDropped)
		return
	}

	if recv, _, ok := session.Receiver(); ok {
		if err := recv.SendBinary(data); err != nil {
			return
		}
	}

	session.AddBytesTransferred(uint64(len(data)))
	h.metrics.Inc(metrics.FramesRelayedTotal)
	h.metrics.Add(metrics.BytesRelayedTotal, uint64(len(data)))
	h.maybeSendSpeedUpdate(ep, session, lastSpeedUpdate)
}

// maybeSendSpeedUpdate emits a speed_update frame back to ep at most once
// per speedUpdateInterval, matching the original service's >1s cadence.
func (h *Handler) maybeSendSpeedUpdate(ep relay.Endpoint, session *relay.Session, last *time.Time) {
	now := time.Now()
	if !last.IsZero() && now.Sub(*last) < speedUpdateInterval {
		return
	}
	*last = now
	_ = ep.SendJSON(typedPayload(outSpeedUpdate, map[string]any{
		"bytes_transferred": session.BytesTransferred(),
		"speed":             session.CalculateSpeed(),
	}))
}

func (h *Handler) handleSenderControl(ep *wsEndpoint, session *relay.Session, userID string, data []byte, log *slog.Logger) {
	msg, err := parseControlMessage(data)
	if err != nil {
		h.metrics.Inc(metrics.ControlFramesDropped)
		log.Debug("dropping malformed control frame", "error", err)
		return
	}

	switch msg.Type {
	case inChat:
		entry := session.AddMessage(RoleSender, msg.Message)
		h.metrics.Inc(metrics.ChatMessagesTotal)
		if recv, _, ok := session.Receiver(); ok {
			_ = recv.SendJSON(typedPayload(outChat, map[string]any{
				"data": map[string]any{
					"sender":    entry.Sender,
					"message":   entry.Message,
					"timestamp": entry.Timestamp,
				},
			}))
		}

	case inTyping:
		if recv, _, ok := session.Receiver(); ok {
			_ = recv.SendJSON(typedPayload(outTyping, map[string]any{"sender": RoleSender}))
		}

	case inPause:
		session.SetPaused(true)
		_ = ep.SendJSON(typedPayload(outPaused, nil))
		if recv, _, ok := session.Receiver(); ok {
			_ = recv.SendJSON(typedPayload(outPaused, nil))
		}

	case inResume:
		session.SetPaused(false)
		_ = ep.SendJSON(typedPayload(outResumed, nil))
		if recv, _, ok := session.Receiver(); ok {
			_ = recv.SendJSON(typedPayload(outResumed, nil))
		}

	case inPong:
		// Keepalive round trip; UpdateActivity already ran for this frame.

	default:
		h.metrics.Inc(metrics.ControlFramesDropped)
	}
}
