package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHubDepth is the per-endpoint queue length of a Hub.
const DefaultHubDepth = 256

// Hub is an in-process multicast fabric. Every transport opened on it that
// has enabled receive on an endpoint gets a copy of each datagram sent to
// that endpoint. A full queue drops the datagram, as a busy socket would.
type Hub struct {
	mu      sync.RWMutex
	members map[string]map[*hubConn]struct{}
	depth   int
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{members: make(map[string]map[*hubConn]struct{}), depth: DefaultHubDepth}
}

func (h *Hub) Open(ch Channel) (Transport, error) {
	return &hubConn{hub: h, ch: ch, done: make(chan struct{})}, nil
}

// Inject delivers raw to every receiver on ep as if a peer had sent it.
func (h *Hub) Inject(ep Endpoint, raw []byte) int {
	return h.deliver(ep.String(), raw)
}

// Dropped counts datagrams discarded because a receiver queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) deliver(key string, raw []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.members[key] {
		select {
		case c.in <- append([]byte(nil), raw...):
			n++
		default:
			h.dropped.Add(1)
		}
	}
	return n
}

func (h *Hub) join(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := c.ch.Listen.String()
	set, ok := h.members[key]
	if !ok {
		set = make(map[*hubConn]struct{})
		h.members[key] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) leave(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := c.ch.Listen.String()
	delete(h.members[key], c)
	if len(h.members[key]) == 0 {
		delete(h.members, key)
	}
}

type hubConn struct {
	hub *Hub
	ch  Channel

	mu         sync.Mutex
	in         chan []byte
	pending    []byte
	hasPending bool // pending may be empty
	closeOnce  sync.Once
	done      chan struct{}
}

func (c *hubConn) EnableReceive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if c.in != nil {
		return nil
	}
	c.in = make(chan []byte, c.hub.depth)
	c.hub.join(c)
	return nil
}

func (c *hubConn) Send(b []byte) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	c.hub.deliver(c.ch.Send.String(), b)
	return len(b), nil
}

func (c *hubConn) HasData(wait time.Duration) (bool, error) {
	in, err := c.queue()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	if c.hasPending {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case b := <-in:
		c.mu.Lock()
		c.pending, c.hasPending = b, true
		c.mu.Unlock()
		return true, nil
	case <-t.C:
		return false, nil
	case <-c.done:
		return false, ErrClosed
	}
}

func (c *hubConn) Receive(b []byte) (int, error) {
	in, err := c.queue()
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	if c.hasPending {
		p := c.pending
		c.pending, c.hasPending = nil, false
		c.mu.Unlock()
		return copy(b, p), nil
	}
	c.mu.Unlock()

	select {
	case p := <-in:
		return copy(b, p), nil
	case <-c.done:
		return 0, ErrClosed
	}
}

func (c *hubConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		joined := c.in != nil
		c.mu.Unlock()
		if joined {
			c.hub.leave(c)
		}
	})
	return nil
}

func (c *hubConn) queue() (chan []byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.in == nil {
		return nil, ErrNotReceiving
	}
	return c.in, nil
}

func (c *hubConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
