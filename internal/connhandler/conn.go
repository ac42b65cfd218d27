package connhandler

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsEndpoint adapts a *websocket.Conn to relay.Endpoint and serializes all
// writes through mu, since gorilla/websocket forbids concurrent writers on a
// single connection (the same constraint the teacher documents and guards
// with its own writeMu).
type wsEndpoint struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newEndpoint(conn *websocket.Conn) *wsEndpoint {
	return &wsEndpoint{conn: conn}
}

func (e *wsEndpoint) SendBinary(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (e *wsEndpoint) SendJSON(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteJSON(v)
}

func (e *wsEndpoint) Close() error {
	return e.conn.Close()
}
