package realtime

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// stream is one upgraded continuation socket.
//
// shutdown is idempotent: the first caller picks the close code, every
// later caller is a no-op. done is closed once shutdown has run.
type stream struct {
	conn   *websocket.Conn
	cancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
}

func newStream(conn *websocket.Conn, cancel context.CancelFunc) *stream {
	return &stream{conn: conn, cancel: cancel, done: make(chan struct{})}
}

// Done returns a channel that is closed when the stream is shutting down.
func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close(code, reason)
		s.cancel()
	})
}
