package relay

import (
	"sync"
	"time"

	"github.com/wilsonzlin/filerelay/internal/config"
	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/ratelimit"
)

// Endpoint is the relay's view of an attached connection. It is implemented
// by connhandler's per-connection wrapper so this package never imports
// gorilla/websocket directly.
type Endpoint interface {
	SendBinary(data []byte) error
	SendJSON(v any) error
	Close() error
}

// ChatMessage is a single chat entry recorded on a session's bounded log,
// mirroring the original service's in-memory chat history.
type ChatMessage struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type peerEntry struct {
	userID   string
	endpoint Endpoint
}

// Session is a single transfer's shared state: the attached sender/receiver
// (legacy two-party mode), any additional peers (N-party mode), the byte
// counter used for speed telemetry, and the bounded chat log. All mutation
// happens under mu; callers must never perform I/O while holding it.
type Session struct {
	id      string
	cfg     config.Config
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	mu sync.Mutex

	metadata map[string]any

	sender         Endpoint
	senderUserID   string
	receiver       Endpoint
	receiverUserID string
	peers          []peerEntry

	bytesTransferred uint64
	isActive         bool
	paused           bool

	createdAt    time.Time
	startTime    *time.Time
	endTime      *time.Time
	lastActivity time.Time

	messages []ChatMessage

	onClose func()
}

func newSession(id string, cfg config.Config, m *metrics.Metrics, clock ratelimit.Clock, onClose func()) *Session {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	now := clock.Now()
	return &Session{
		id:           id,
		cfg:          cfg,
		metrics:      m,
		clock:        clock,
		metadata:     make(map[string]any),
		peers:        make([]peerEntry, 0),
		isActive:     true,
		createdAt:    now,
		lastActivity: now,
		messages:     make([]ChatMessage, 0),
		onClose:      onClose,
	}
}

func (s *Session) ID() string { return s.id }

// UpdateActivity records that the session saw activity (a frame, a control
// message, a ping) just now, refreshing the idle-eviction deadline.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// LastActivity returns the timestamp of the most recent UpdateActivity call.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Metadata returns the session's attached metadata map.
func (s *Session) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata stores a metadata value. connhandler never calls it, so the
// metadata sent to a receiver on attach is empty unless another caller
// sets it.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// EnsureStarted marks the transfer clock as started if it has not already,
// without requiring any bytes to have moved yet. Used by N-party peer mode,
// where the clock starts from the first peer joining rather than from the
// first byte (unlike sender/receiver mode, where AddBytesTransferred alone
// starts it).
func (s *Session) EnsureStarted() {
	s.mu.Lock()
	if s.startTime == nil {
		now := s.clock.Now()
		s.startTime = &now
	}
	s.mu.Unlock()
}

// AddBytesTransferred increments the monotonic byte counter used for speed
// telemetry. It also marks the transfer as started on first call.
func (s *Session) AddBytesTransferred(n uint64) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.bytesTransferred += n
	if s.startTime == nil {
		now := s.clock.Now()
		s.startTime = &now
	}
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

// BytesTransferred returns the current monotonic byte count.
func (s *Session) BytesTransferred() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesTransferred
}

// CalculateSpeed returns the whole-session average transfer speed in
// bytes/sec: total bytes divided by elapsed wall-clock time since the
// transfer clock started (the first byte moved, or in peer mode the first
// peer joined; see EnsureStarted). Returns 0 before any bytes have
// transferred or while elapsed
// time rounds to zero. Matches the original service's calculate_speed, which
// intentionally uses a whole-session average rather than a moving window.
func (s *Session) CalculateSpeed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTime == nil || s.bytesTransferred == 0 {
		return 0
	}
	end := s.clock.Now()
	if s.endTime != nil {
		end = *s.endTime
	}
	elapsed := end.Sub(*s.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.bytesTransferred) / elapsed
}

// maxMessages bounds the chat log; the oldest entry is evicted once the log
// would otherwise grow past it.
const maxMessages = 100

// AddMessage appends a chat entry to the session's bounded log. Text is
// truncated to cfg.MaxMessageLength characters.
func (s *Session) AddMessage(sender, text string) ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxMessageLength > 0 {
		if runes := []rune(text); len(runes) > s.cfg.MaxMessageLength {
			text = string(runes[:s.cfg.MaxMessageLength])
		}
	}

	msg := ChatMessage{
		Sender:    sender,
		Message:   text,
		Timestamp: s.clock.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z",
	}

	s.messages = append(s.messages, msg)
	if len(s.messages) > maxMessages {
		s.messages = s.messages[len(s.messages)-maxMessages:]
	}
	return msg
}

// Messages returns a copy of the chat log.
func (s *Session) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// AttachSender attaches ep as the session's sender. Returns
// ErrRoleAlreadyTaken if a sender is already attached.
func (s *Session) AttachSender(ep Endpoint, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sender != nil {
		return ErrRoleAlreadyTaken
	}
	s.sender = ep
	s.senderUserID = userID
	return nil
}

// AttachReceiver attaches ep as the session's receiver. Returns
// ErrRoleAlreadyTaken if a receiver is already attached.
func (s *Session) AttachReceiver(ep Endpoint, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiver != nil {
		return ErrRoleAlreadyTaken
	}
	s.receiver = ep
	s.receiverUserID = userID
	return nil
}

// AttachPeer adds ep to the session's peer set (N-party mode).
func (s *Session) AttachPeer(ep Endpoint, userID string) {
	s.mu.Lock()
	s.peers = append(s.peers, peerEntry{userID: userID, endpoint: ep})
	s.mu.Unlock()
}

// DetachSender clears the sender slot, returning the endpoint that was
// attached (or nil if none was).
func (s *Session) DetachSender() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.sender
	s.sender = nil
	s.senderUserID = ""
	return ep
}

// DetachReceiver clears the receiver slot, returning the endpoint that was
// attached (or nil if none was).
func (s *Session) DetachReceiver() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.receiver
	s.receiver = nil
	s.receiverUserID = ""
	return ep
}

// DetachPeer removes ep's entry from the peer set by identity.
func (s *Session) DetachPeer(ep Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.peers {
		if p.endpoint == ep {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return
		}
	}
}

// Sender returns the attached sender endpoint and user id, if any.
func (s *Session) Sender() (Endpoint, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender, s.senderUserID, s.sender != nil
}

// Receiver returns the attached receiver endpoint and user id, if any.
func (s *Session) Receiver() (Endpoint, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver, s.receiverUserID, s.receiver != nil
}

// Peers returns a snapshot of the current peer set.
func (s *Session) Peers() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Endpoint, len(s.peers))
	for i, p := range s.peers {
		out[i] = p.endpoint
	}
	return out
}

// SetPaused toggles the flow-control pause state.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Paused reports the current flow-control pause state.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// IsActive reports whether the session has not yet been closed.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActive
}

// CreatedAt returns the session's creation timestamp.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Close marks the session inactive and records the end time, then invokes
// the registry's removal callback. It is idempotent. Endpoints are not
// closed here; connhandler's teardown path closes attached connections
// before calling Close.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.isActive {
		s.mu.Unlock()
		return
	}
	s.isActive = false
	now := s.clock.Now()
	s.endTime = &now
	onClose := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Summary is a read-only snapshot used by the /api/sessions endpoint.
type Summary struct {
	ID               string  `json:"id"`
	IsActive         bool    `json:"is_active"`
	Paused           bool    `json:"paused"`
	BytesTransferred uint64  `json:"bytes_transferred"`
	SpeedBps         float64 `json:"speed_bps"`
	HasSender        bool    `json:"has_sender"`
	HasReceiver      bool    `json:"has_receiver"`
	PeerCount        int     `json:"peer_count"`
	CreatedAt        string  `json:"created_at"`
}

// Snapshot returns a point-in-time summary of the session's public state.
func (s *Session) Snapshot() Summary {
	s.mu.Lock()
	summary := Summary{
		ID:               s.id,
		IsActive:         s.isActive,
		Paused:           s.paused,
		BytesTransferred: s.bytesTransferred,
		HasSender:        s.sender != nil,
		HasReceiver:      s.receiver != nil,
		PeerCount:        len(s.peers),
		CreatedAt:        s.createdAt.UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()
	summary.SpeedBps = s.CalculateSpeed()
	return summary
}
