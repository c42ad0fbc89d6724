package session

import (
	"sync"
)

// CloseSignal asks one authenticated WebSocket to shut down.
// Fire is idempotent and safe to call from any goroutine.
type CloseSignal struct {
	done chan struct{}
	once sync.Once
}

func newCloseSignal() *CloseSignal {
	return &CloseSignal{done: make(chan struct{})}
}

// Done is closed once the signal fires.
func (c *CloseSignal) Done() <-chan struct{} { return c.done }

// Fire closes Done. Subsequent calls do nothing.
func (c *CloseSignal) Fire() {
	c.once.Do(func() { close(c.done) })
}

// Fired reports whether Fire has been called.
func (c *CloseSignal) Fired() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// OpenWebSockets maps a session hash to the close signals of the sockets it opened.
// The zero value is not usable; use NewOpenWebSockets.
type OpenWebSockets struct {
	mu     sync.Mutex
	byHash map[string][]*CloseSignal
}

func NewOpenWebSockets() *OpenWebSockets {
	return &OpenWebSockets{byHash: make(map[string][]*CloseSignal)}
}

// Register records a new socket for hash and returns its signal.
func (o *OpenWebSockets) Register(hash string) *CloseSignal {
	sig := newCloseSignal()

	o.mu.Lock()
	o.byHash[hash] = append(o.byHash[hash], sig)
	o.mu.Unlock()

	return sig
}

// Deregister drops sig after its socket closed on its own.
func (o *OpenWebSockets) Deregister(hash string, sig *CloseSignal) {
	o.mu.Lock()
	defer o.mu.Unlock()

	list := o.byHash[hash]
	for i, s := range list {
		if s == sig {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(o.byHash, hash)
		return
	}
	o.byHash[hash] = list
}

// CloseAll fires and removes every signal registered under hash.
// It returns how many sockets were signalled.
func (o *OpenWebSockets) CloseAll(hash string) int {
	o.mu.Lock()
	list := o.byHash[hash]
	delete(o.byHash, hash)
	o.mu.Unlock()

	for _, sig := range list {
		sig.Fire()
	}
	return len(list)
}

// Count returns the number of registered sockets across all sessions.
func (o *OpenWebSockets) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, list := range o.byHash {
		n += len(list)
	}
	return n
}

// CountFor returns the number of registered sockets for hash.
func (o *OpenWebSockets) CountFor(hash string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byHash[hash])
}
