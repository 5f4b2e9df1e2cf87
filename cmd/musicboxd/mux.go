package main

import (
	"context"
	"sync"
)

// ============================================================================
// Fan-in multiplexer
// ============================================================================
// Mux merges a growable set of independent sources into one ordered stream.
// The daemon loop owns two of these: one for commands, one for events.
//
// Registry and wake slot share one mutex, so AddSource can race freely with
// an in-progress poll: either the new source is seen by the current visiting
// pass, or the wake token it leaves behind forces another pass before the
// consumer suspends. There is no window in which a wake can be lost.
// ============================================================================

// Mux is a fan-in multiplexer over sources of T. The zero value is not
// usable; call NewMux.
type Mux[T any] struct {
	mu      sync.Mutex
	sources []Source[T]

	// wake carries at most one pending wakeup. Producers and AddSource
	// publish into it; the consumer drains it between visiting passes.
	wake chan struct{}
}

// NewMux returns an empty multiplexer. An empty mux reports end-of-stream,
// so add at least one source before consuming (or use NewFeed).
func NewMux[T any]() *Mux[T] {
	return &Mux[T]{wake: make(chan struct{}, 1)}
}

// AddSource registers src. It never blocks and may be called at any time,
// including while a Next is suspended; the suspended consumer is woken and
// visits the new source before giving up. New sources are placed at the
// front of the rotation so they are visited immediately.
func (m *Mux[T]) AddSource(src Source[T]) {
	m.mu.Lock()
	m.sources = append([]Source[T]{src}, m.sources...)
	m.mu.Unlock()
	m.notify()
}

// NewFeed creates a feed, registers it and returns the producer handle.
func (m *Mux[T]) NewFeed() *Feed[T] {
	f := NewFeed[T]()
	m.AddSource(f)
	return f
}

func (m *Mux[T]) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of registered (not yet ended) sources.
func (m *Mux[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// TryNext performs one visiting pass: each registered source is polled at
// most once, front to back. A source that yields is moved to the back so the
// rest get the next turn; ended sources are removed and never revisited.
// PollPending means every source is pending and a wake token will be
// published to Woken when any of them (or AddSource) has news. PollEnded
// means the registry is empty: permanent end-of-stream.
func (m *Mux[T]) TryNext() (Message[T], PollStatus) {
	var zero Message[T]

	m.mu.Lock()
	for i := 0; i < len(m.sources); {
		src := m.sources[i]
		msg, status := src.Poll(m.notify)
		switch status {
		case PollReady:
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			m.sources = append(m.sources, src)
			m.mu.Unlock()
			return msg, PollReady
		case PollEnded:
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
		default:
			i++
		}
	}
	empty := len(m.sources) == 0
	m.mu.Unlock()

	if empty {
		return zero, PollEnded
	}
	return zero, PollPending
}

// Woken is the mux's wake channel. A token appears whenever a source yields
// new items after a pending TryNext, or a source is added. Consumers waiting
// on several muxes select over their Woken channels.
func (m *Mux[T]) Woken() <-chan struct{} {
	return m.wake
}

// Next blocks until some source yields an item, every source has ended
// (ok=false), or ctx is done (ok=false).
func (m *Mux[T]) Next(ctx context.Context) (Message[T], bool) {
	var zero Message[T]
	for {
		msg, status := m.TryNext()
		switch status {
		case PollReady:
			return msg, true
		case PollEnded:
			return zero, false
		}

		select {
		case <-m.wake:
		case <-ctx.Done():
			return zero, false
		}
	}
}
