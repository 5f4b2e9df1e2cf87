package main

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// Message envelope and Feed handoff
// ============================================================================
// Every command and event travels in a Message with the instant it was
// produced, so downstream consumers can reason about causality even when
// delivery is deferred (debounce, queueing).
//
// A Feed is the producer-side handoff backing one multiplexer source: an
// insertion-ordered queue plus a single wake slot, both guarded by one mutex.
// Producers may run in arbitrary goroutines (including pin interrupt
// callbacks); they only ever take the one short-lived lock, append, and fire
// a previously stored wake function. This is what makes the handoff safe to
// call from interrupt context without ever blocking or losing a wakeup.
// ============================================================================

// Message wraps a payload with the instant it was created.
type Message[T any] struct {
	Payload T
	At      time.Time
}

// NewMessage stamps payload with the current time.
func NewMessage[T any](payload T) Message[T] {
	return Message[T]{Payload: payload, At: time.Now()}
}

// PollStatus reports the outcome of a non-blocking poll of a Source.
type PollStatus int

const (
	// PollReady means an item was returned.
	PollReady PollStatus = iota
	// PollPending means no item is available yet; the poller's wake
	// function has been stored and will fire when that changes.
	PollPending
	// PollEnded means the source is closed and drained; it will never
	// produce again.
	PollEnded
)

// Source is anything the fan-in multiplexer can drain.
//
// Poll must not block. When it returns PollPending it must retain wake (at
// most one outstanding handle) and invoke it when a new item arrives or the
// source ends. The handle must be taken and called without holding any lock
// across unrelated blocking operations.
type Source[T any] interface {
	Poll(wake func()) (Message[T], PollStatus)
}

// Feed is a Source fed by explicit Send/Close calls.
type Feed[T any] struct {
	mu     sync.Mutex
	queue  []Message[T]
	limit  int
	wake   func()
	closed bool
}

// NewFeed returns an open, empty feed with no queue bound. Command and event
// feeds are unbounded: the loop drains them and nothing may be dropped.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{}
}

// newBoundedFeed returns a feed that keeps at most limit queued messages,
// discarding the oldest when a consumer falls behind.
func newBoundedFeed[T any](limit int) *Feed[T] {
	return &Feed[T]{limit: limit}
}

// Send enqueues payload stamped with the current time.
func (f *Feed[T]) Send(payload T) {
	f.SendMessage(NewMessage(payload))
}

// SendMessage enqueues m. Sends after Close are dropped. Never blocks; safe
// from any goroutine, including interrupt callbacks.
func (f *Feed[T]) SendMessage(m Message[T]) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, m)
	if f.limit > 0 && len(f.queue) > f.limit {
		f.queue = f.queue[1:]
	}
	wake := f.wake
	f.wake = nil
	f.mu.Unlock()

	if wake != nil {
		wake()
	}
}

// Close marks the feed ended. Queued items are still delivered; after the
// queue drains, polls report PollEnded.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	wake := f.wake
	f.wake = nil
	f.mu.Unlock()

	if wake != nil {
		wake()
	}
}

// Poll implements Source. Storing the wake handle happens under the same
// lock as the queue check, so a send between "saw empty" and "stored handle"
// is impossible.
func (f *Feed[T]) Poll(wake func()) (Message[T], PollStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		return m, PollReady
	}
	if f.closed {
		var zero Message[T]
		return zero, PollEnded
	}
	f.wake = wake
	var zero Message[T]
	return zero, PollPending
}

// Recv blocks until an item is available, the feed ends, or ctx is done.
// Only one consumer may Recv (or Poll) a feed at a time.
func (f *Feed[T]) Recv(ctx context.Context) (Message[T], bool) {
	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	for {
		m, status := f.Poll(notify)
		switch status {
		case PollReady:
			return m, true
		case PollEnded:
			var zero Message[T]
			return zero, false
		}
		select {
		case <-wake:
		case <-ctx.Done():
			var zero Message[T]
			return zero, false
		}
	}
}
