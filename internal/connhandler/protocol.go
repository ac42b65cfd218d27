package connhandler

import "time"

// Roles a connection can attach to a session as. Matches the
// {sessionID}/{role}/{userID} path segment of the WebSocket upgrade route.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
	RolePeer     = "peer"
)

// Inbound control message types, sent by any connected party as a text
// frame. Binary frames carry transfer payload and are never decoded as JSON.
const (
	inChat   = "chat"
	inTyping = "typing"
	inPause  = "pause"
	inResume = "resume"
	inPong   = "pong"
)

// Outbound message types/statuses, sent back to one or more parties.
const (
	outWaiting           = "waiting"
	outReady             = "ready"
	outConnected         = "connected"
	outReceiverConnected = "receiver_connected"
	outPeerJoined        = "peer_joined"
	outPeerLeft          = "peer_left"
	outError             = "error"
	outChat              = "chat"
	outTyping            = "typing"
	outPaused            = "paused"
	outResumed           = "resumed"
	outTransferComplete  = "transfer_complete"
	outPing              = "ping"
	outSpeedUpdate       = "speed_update"
)

// controlMessage is the shape of an inbound text frame. Unused fields are
// simply ignored by whichever handler doesn't care about them, mirroring the
// original service's loose dict-based dispatch.
type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// nowTimestamp formats the current time the way the original service's
// datetime.now().isoformat() does, for status/error frames that are not
// stored anywhere (unlike ChatMessage.Timestamp, which uses the session's
// injected clock).
func nowTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

func errorPayload(message string) map[string]any {
	return statusPayload(outError, map[string]any{"message": message})
}

// statusPayload builds a lifecycle frame keyed by "status". Every such frame
// carries a timestamp; callers add whatever else applies (session_id,
// chat_history, …) via extra.
func statusPayload(status string, extra map[string]any) map[string]any {
	payload := map[string]any{"status": status, "timestamp": nowTimestamp()}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func typedPayload(msgType string, extra map[string]any) map[string]any {
	payload := map[string]any{"type": msgType}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}
