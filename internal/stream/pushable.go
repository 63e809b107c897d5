// Package stream provides push-to-pull buffering for session update streams.
//
// Producers (the JSON-RPC read loop) push items without ever blocking or
// failing; consumers pull them in order, blocking until an item arrives or
// the stream ends.
package stream

import (
	"context"
	"sync"
)

type waiter[T any] struct {
	ch   chan T        // buffered(1), receives at most one item
	done chan struct{} // closed when the stream ends
}

// Pushable is an unbounded FIFO queue bridging a push-style producer and
// pull-style consumers. Items pushed while consumers wait are handed to the
// longest-waiting consumer. Ending the stream wakes every waiter; pushes
// after the end are dropped.
type Pushable[T any] struct {
	mu      sync.Mutex
	items   []T
	waiters []*waiter[T]
	ended   bool
}

// NewPushable creates an empty, open stream.
func NewPushable[T any]() *Pushable[T] {
	return &Pushable[T]{}
}

// Push appends an item or hands it directly to the oldest waiting consumer.
// It never blocks. Pushes after End are silently dropped.
func (p *Pushable[T]) Push(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- item
		return
	}

	p.items = append(p.items, item)
}

// End marks the stream finished and wakes all waiting consumers. Buffered
// items remain consumable; once drained, Next reports end-of-stream.
// Ending twice is a no-op.
func (p *Pushable[T]) End() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ended {
		return
	}
	p.ended = true

	for _, w := range p.waiters {
		close(w.done)
	}
	p.waiters = nil
}

// Next returns the next item in order. It blocks until an item is pushed,
// the stream ends, or ctx is cancelled. ok is false when the stream has
// ended and no buffered items remain.
func (p *Pushable[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	p.mu.Lock()

	if len(p.items) > 0 {
		item = p.items[0]
		p.items = p.items[1:]
		p.mu.Unlock()
		return item, true, nil
	}

	if p.ended {
		p.mu.Unlock()
		return item, false, nil
	}

	w := &waiter[T]{ch: make(chan T, 1), done: make(chan struct{})}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case item = <-w.ch:
		return item, true, nil
	case <-w.done:
		// End raced with a Push that already handed us an item.
		select {
		case item = <-w.ch:
			return item, true, nil
		default:
		}
		return item, false, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.removeWaiter(w)
		p.mu.Unlock()
		// A Push may have delivered before we withdrew; do not lose it.
		select {
		case item = <-w.ch:
			return item, true, nil
		default:
		}
		return item, false, ctx.Err()
	}
}

// TryNext pops a buffered item without blocking. ok is false when the
// buffer is empty.
func (p *Pushable[T]) TryNext() (item T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return item, false
	}
	item = p.items[0]
	p.items = p.items[1:]
	return item, true
}

// Len returns the number of buffered, unconsumed items.
func (p *Pushable[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Ended reports whether End has been called.
func (p *Pushable[T]) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

func (p *Pushable[T]) removeWaiter(w *waiter[T]) {
	for i, candidate := range p.waiters {
		if candidate == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
