package hub

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Session adapts one websocket connection into a hub Sink. It carries no
// retry logic: reconnection is a client-side concern.
type Session struct {
	conn      *websocket.Conn
	writeWait time.Duration

	mu sync.Mutex // the hub serializes broadcasts, but close paths can race a send
}

// NewSession wraps an upgraded websocket connection.
func NewSession(conn *websocket.Conn, writeWait time.Duration) *Session {
	return &Session{
		conn:      conn,
		writeWait: writeWait,
	}
}

// Send writes one text frame under a write deadline. A slow or dead peer
// fails the deadline and gets dropped by the hub instead of blocking
// ingestion.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeWait > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// DrainInbound consumes frames from the peer until the transport closes.
// The hub never receives client-originated messages other than attach and
// detach, so anything the peer sends here is ignored.
func (s *Session) DrainInbound() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
