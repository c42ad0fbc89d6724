// Package continuation lets a stateless RPC call hand its caller off to a
// long-lived WebSocket or REST request.
//
// The RPC handler registers a Continuation and returns its RequestGuid. The
// caller then opens /ws/rpc/{guid} or /rest/rpc/{guid}; the transport claims the
// guid and runs the handler. Each continuation is taken exactly once, by a
// claim of the matching kind or by the expiry sweep.
package continuation

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

type Kind int

const (
	KindWebSocket Kind = iota + 1
	KindRest
)

func (k Kind) String() string {
	switch k {
	case KindWebSocket:
		return "websocket"
	case KindRest:
		return "rest"
	default:
		return "unknown"
	}
}

// WebSocketHandler owns an upgraded connection until it returns.
// The transport closes conn afterwards if the handler did not.
type WebSocketHandler func(ctx context.Context, conn *websocket.Conn) error

// RestHandler answers the follow-up HTTP request.
type RestHandler func(w http.ResponseWriter, r *http.Request)

// Continuation is either a WebSocket or a REST follow-up. Build one with
// WebSocket or Rest.
type Continuation struct {
	kind Kind
	ws   *deliverable[WebSocketHandler]
	rest *deliverable[RestHandler]
}

func (c Continuation) Kind() Kind { return c.kind }

// WebSocket wraps a ready WebSocket handler.
func WebSocket(h WebSocketHandler) Continuation {
	return Continuation{kind: KindWebSocket, ws: ready(h)}
}

// Rest wraps a ready REST handler.
func Rest(h RestHandler) Continuation {
	return Continuation{kind: KindRest, rest: ready(h)}
}

// deliverable yields its value to at most one taker.
type deliverable[T any] struct {
	ch   chan T
	once sync.Once
}

func ready[T any](v T) *deliverable[T] {
	d := &deliverable[T]{ch: make(chan T, 1)}
	d.deliver(v)
	return d
}

// deliver supplies the value. Only the first call has an effect.
func (d *deliverable[T]) deliver(v T) {
	d.once.Do(func() { d.ch <- v })
}

// take waits for the value. Removal from the registry guarantees a single caller.
func (d *deliverable[T]) take(ctx context.Context) (T, bool) {
	select {
	case v := <-d.ch:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
