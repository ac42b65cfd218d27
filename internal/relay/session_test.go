package relay

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/filerelay/internal/config"
	"github.com/wilsonzlin/filerelay/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeEndpoint struct {
	mu     sync.Mutex
	binary [][]byte
	json   []any
	closed bool
}

func (e *fakeEndpoint) SendBinary(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	e.binary = append(e.binary, cp)
	return nil
}

func (e *fakeEndpoint) SendJSON(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.json = append(e.json, v)
	return nil
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func testConfig() config.Config {
	return config.Config{
		MaxSessions:      0,
		MaxMessageLength: 20,
	}
}

func TestSession_CalculateSpeed(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	s := newSession("s1", testConfig(), metrics.New(), clock, nil)

	if got := s.CalculateSpeed(); got != 0 {
		t.Fatalf("speed before any bytes = %v, want 0", got)
	}

	s.AddBytesTransferred(1000)
	clock.Advance(1 * time.Second)
	s.AddBytesTransferred(1000)

	if got := s.CalculateSpeed(); got != 2000 {
		t.Fatalf("speed = %v, want 2000", got)
	}

	// Whole-session average, not a moving window: a further second with no
	// new bytes still divides by total elapsed time.
	clock.Advance(1 * time.Second)
	if got := s.CalculateSpeed(); got != 1000 {
		t.Fatalf("speed after idle second = %v, want 1000", got)
	}
}

func TestSession_AddMessage_TruncatesAndBounds(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	s := newSession("s1", testConfig(), metrics.New(), clock, nil)

	long := strings.Repeat("x", 100)
	msg := s.AddMessage("alice", long)
	if len(msg.Message) != 20 {
		t.Fatalf("message length = %d, want 20 (MaxMessageLength)", len(msg.Message))
	}
	if !strings.HasSuffix(msg.Timestamp, "Z") {
		t.Fatalf("timestamp %q missing Z suffix", msg.Timestamp)
	}

	for i := 0; i < maxMessages+10; i++ {
		s.AddMessage("bob", fmt.Sprintf("msg-%d", i))
	}

	got := s.Messages()
	if len(got) != maxMessages {
		t.Fatalf("message log length = %d, want %d", len(got), maxMessages)
	}
	// The oldest entries (including the truncated "alice" one) must have been
	// evicted in FIFO order.
	if got[0].Message != "msg-10" {
		t.Fatalf("oldest surviving message = %q, want msg-10", got[0].Message)
	}
}

func TestSession_AttachRoles(t *testing.T) {
	s := newSession("s1", testConfig(), metrics.New(), newFakeClock(time.Unix(0, 0)), nil)

	sender := &fakeEndpoint{}
	if err := s.AttachSender(sender, "alice"); err != nil {
		t.Fatalf("AttachSender: %v", err)
	}
	if err := s.AttachSender(&fakeEndpoint{}, "mallory"); err != ErrRoleAlreadyTaken {
		t.Fatalf("second AttachSender error = %v, want ErrRoleAlreadyTaken", err)
	}

	receiver := &fakeEndpoint{}
	if err := s.AttachReceiver(receiver, "bob"); err != nil {
		t.Fatalf("AttachReceiver: %v", err)
	}

	peer := &fakeEndpoint{}
	s.AttachPeer(peer, "carol")
	if got := len(s.Peers()); got != 1 {
		t.Fatalf("peer count = %d, want 1", got)
	}

	s.DetachPeer(peer)
	if got := len(s.Peers()); got != 0 {
		t.Fatalf("peer count after detach = %d, want 0", got)
	}

	if ep := s.DetachSender(); ep != sender {
		t.Fatalf("DetachSender returned wrong endpoint")
	}
	if _, _, ok := s.Sender(); ok {
		t.Fatalf("Sender still attached after DetachSender")
	}
}

func TestSession_Close_IsIdempotentAndInvokesOnClose(t *testing.T) {
	var calls int
	s := newSession("s1", testConfig(), metrics.New(), newFakeClock(time.Unix(0, 0)), func() {
		calls++
	})

	s.Close()
	s.Close()

	if calls != 1 {
		t.Fatalf("onClose called %d times, want 1", calls)
	}
	if s.IsActive() {
		t.Fatalf("session still active after Close")
	}
}

func TestSession_AddBytesTransferred_Concurrent(t *testing.T) {
	s := newSession("s1", testConfig(), metrics.New(), newFakeClock(time.Unix(0, 0)), nil)

	var wg sync.WaitGroup
	const goroutines = 50
	const perGoroutine = 100
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s.AddBytesTransferred(1)
			}
		}()
	}
	wg.Wait()

	if got, want := s.BytesTransferred(), uint64(goroutines*perGoroutine); got != want {
		t.Fatalf("bytes transferred = %d, want %d", got, want)
	}
}
