package canbus

import (
	"context"
	"sync"
)

const defaultLoopbackQueue = 64

// LoopbackOption configures a LoopbackBus.
type LoopbackOption func(*LoopbackBus)

// WithQueueSize sets how many frames each endpoint buffers before senders
// block. Values below 1 keep the default of 64.
func WithQueueSize(n int) LoopbackOption {
	return func(b *LoopbackBus) {
		if n > 0 {
			b.queue = n
		}
	}
}

// LoopbackBus is an in-memory CAN segment for tests and simulations. Every
// endpoint opened on it sees the frames sent by every other endpoint.
type LoopbackBus struct {
	queue int

	mu    sync.RWMutex
	shut  bool
	peers map[*loopEndpoint]struct{}
}

// NewLoopbackBus creates an empty segment.
func NewLoopbackBus(opts ...LoopbackOption) *LoopbackBus {
	b := &LoopbackBus{queue: defaultLoopbackQueue, peers: map[*loopEndpoint]struct{}{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open attaches a new endpoint. Endpoints opened after Close are already
// closed.
func (b *LoopbackBus) Open() Bus {
	ep := &loopEndpoint{seg: b, rx: make(chan Frame, b.queue), done: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shut {
		ep.stop()
		return ep
	}
	b.peers[ep] = struct{}{}
	return ep
}

// Endpoints reports how many endpoints are attached.
func (b *LoopbackBus) Endpoints() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

// Close detaches and closes every endpoint. It is safe to call twice.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shut {
		return nil
	}
	b.shut = true
	for ep := range b.peers {
		ep.stop()
	}
	clear(b.peers)
	return nil
}

// others returns the endpoints a frame from ep is delivered to.
func (b *LoopbackBus) others(ep *loopEndpoint) ([]*loopEndpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.shut {
		return nil, false
	}
	out := make([]*loopEndpoint, 0, len(b.peers))
	for p := range b.peers {
		if p != ep {
			out = append(out, p)
		}
	}
	return out, true
}

// loopEndpoint never closes rx; done signals shutdown so that concurrent
// senders cannot write to a closed channel.
type loopEndpoint struct {
	seg  *LoopbackBus
	rx   chan Frame
	done chan struct{}
	once sync.Once
}

func (e *loopEndpoint) stop() { e.once.Do(func() { close(e.done) }) }

func (e *loopEndpoint) isDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Send delivers frame to every other endpoint, blocking while a receiver's
// queue is full.
func (e *loopEndpoint) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if e.isDone() {
		return ErrClosed
	}
	peers, ok := e.seg.others(e)
	if !ok {
		return ErrClosed
	}
	for _, p := range peers {
		select {
		case p.rx <- frame:
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Receive waits for the next frame from another endpoint.
func (e *loopEndpoint) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-e.rx:
		return f, nil
	case <-e.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close detaches the endpoint.
func (e *loopEndpoint) Close() error {
	e.seg.mu.Lock()
	delete(e.seg.peers, e)
	e.seg.mu.Unlock()
	e.stop()
	return nil
}
