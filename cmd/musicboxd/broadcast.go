package main

import (
	"context"
	"sync"
)

// ============================================================================
// Fan-out broadcaster
// ============================================================================
// The dual of the fan-in multiplexer: one sender, many independent
// receivers. Each receiver owns its own feed, so a slow or abandoned
// receiver never blocks the sender or its siblings. Receivers may subscribe
// and close at any time.
// ============================================================================

// Broadcaster fans messages of T out to all current subscribers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Receiver[T]]struct{}
	closed bool
}

// NewBroadcaster returns a broadcaster with no subscribers. Sends with no
// subscribers are discarded.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Receiver[T]]struct{})}
}

// receiverBacklog bounds each subscriber's queue. A receiver that stops
// draining loses its oldest messages instead of growing without bound.
const receiverBacklog = 256

// Subscribe registers and returns a new receiver. Subscribing to a closed
// broadcaster returns an already-ended receiver.
func (b *Broadcaster[T]) Subscribe() *Receiver[T] {
	r := &Receiver[T]{b: b, feed: newBoundedFeed[T](receiverBacklog)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		r.feed.Close()
		return r
	}
	b.subs[r] = struct{}{}
	b.mu.Unlock()
	return r
}

// Send broadcasts payload, stamped once so every receiver sees the same
// instant.
func (b *Broadcaster[T]) Send(payload T) {
	b.SendMessage(NewMessage(payload))
}

// SendMessage delivers m to every current subscriber. Never blocks.
func (b *Broadcaster[T]) SendMessage(m Message[T]) {
	b.mu.Lock()
	receivers := make([]*Receiver[T], 0, len(b.subs))
	for r := range b.subs {
		receivers = append(receivers, r)
	}
	b.mu.Unlock()

	for _, r := range receivers {
		r.feed.SendMessage(m)
	}
}

// Close ends every receiver. Further sends are discarded.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	receivers := make([]*Receiver[T], 0, len(b.subs))
	for r := range b.subs {
		receivers = append(receivers, r)
	}
	b.subs = make(map[*Receiver[T]]struct{})
	b.mu.Unlock()

	for _, r := range receivers {
		r.feed.Close()
	}
}

// Receiver is one subscriber's end of a broadcast. It implements Source, so
// a receiver can be registered with a fan-in multiplexer directly.
type Receiver[T any] struct {
	b    *Broadcaster[T]
	feed *Feed[T]
}

// Poll implements Source.
func (r *Receiver[T]) Poll(wake func()) (Message[T], PollStatus) {
	return r.feed.Poll(wake)
}

// Recv blocks for the next message. ok is false once the receiver is closed
// and drained, or when ctx is done.
func (r *Receiver[T]) Recv(ctx context.Context) (Message[T], bool) {
	return r.feed.Recv(ctx)
}

// Close unsubscribes the receiver. Silent: the broadcaster and other
// receivers are unaffected.
func (r *Receiver[T]) Close() {
	r.b.mu.Lock()
	delete(r.b.subs, r)
	r.b.mu.Unlock()
	r.feed.Close()
}
