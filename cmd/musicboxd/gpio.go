package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// ============================================================================
// Hardware signal source
// ============================================================================
// Interrupts is the hardware collaborator boundary: pins are acquired by
// numeric id and deliver interrupt-style callbacks per trigger kind. The
// production implementation sits on periph.io; tests supply their own.
//
// PinSource turns those callbacks into a lossless ordered stream. The
// callback runs on whatever goroutine the hardware layer uses; it only ever
// takes the feed's one short-lived lock, enqueues, and fires the stored
// wake. Closing the source releases the pin and ends the stream, which every
// downstream stage observes as end-of-stream.
// ============================================================================

// Trigger selects which level transitions generate pin events.
type Trigger int

const (
	TriggerRising Trigger = iota
	TriggerFalling
	TriggerBoth
)

// Pull is the pin's pull resistor configuration.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// PinEvent is one raw level transition, stamped at the instant the
// interrupt fired. Level is true for high.
type PinEvent struct {
	At    time.Time
	Level bool
}

// WatchedPin is a claimed pin delivering callbacks until closed.
type WatchedPin interface {
	// Read returns the pin's current level.
	Read() (bool, error)
	io.Closer
}

// Interrupts acquires pins by numeric id and registers interrupt callbacks.
type Interrupts interface {
	// Watch claims pin, applies pull, and invokes fn on every transition
	// matching trigger until the returned pin is closed. fn runs on an
	// arbitrary goroutine and must not block. Returns ErrPinUnavailable
	// if the pin is unknown or already claimed, ErrHardwareFault if edge
	// registration fails.
	Watch(pin int, pull Pull, trigger Trigger, fn func(PinEvent)) (WatchedPin, error)
}

// ============================================================================
// periph.io implementation
// ============================================================================

// periphInterrupts adapts periph.io edge detection to the Interrupts
// contract. periph exposes a blocking WaitForEdge rather than callbacks, so
// each watched pin runs one goroutine that converts edges into callbacks.
type periphInterrupts struct {
	mu      sync.Mutex
	claimed map[int]bool
}

// NewPeriphInterrupts returns the periph.io-backed hardware collaborator.
// periph's host must have been initialized (host.Init) first.
func NewPeriphInterrupts() Interrupts {
	return &periphInterrupts{claimed: make(map[int]bool)}
}

func (h *periphInterrupts) Watch(pin int, pull Pull, trigger Trigger, fn func(PinEvent)) (WatchedPin, error) {
	h.mu.Lock()
	if h.claimed[pin] {
		h.mu.Unlock()
		return nil, fmt.Errorf("pin %d already claimed: %w", pin, ErrPinUnavailable)
	}
	h.claimed[pin] = true
	h.mu.Unlock()

	release := func() {
		h.mu.Lock()
		delete(h.claimed, pin)
		h.mu.Unlock()
	}

	p := gpioreg.ByName(strconv.Itoa(pin))
	if p == nil {
		release()
		return nil, fmt.Errorf("no such pin %d: %w", pin, ErrPinUnavailable)
	}

	var gpull gpio.Pull
	switch pull {
	case PullUp:
		gpull = gpio.PullUp
	case PullDown:
		gpull = gpio.PullDown
	default:
		gpull = gpio.Float
	}

	var edge gpio.Edge
	switch trigger {
	case TriggerRising:
		edge = gpio.RisingEdge
	case TriggerFalling:
		edge = gpio.FallingEdge
	default:
		edge = gpio.BothEdges
	}

	if err := p.In(gpull, edge); err != nil {
		release()
		return nil, fmt.Errorf("configure pin %d: %v: %w", pin, err, ErrHardwareFault)
	}

	w := &periphPin{pin: p, release: release, done: make(chan struct{})}
	go w.watch(fn)
	return w, nil
}

type periphPin struct {
	pin     gpio.PinIO
	release func()
	done    chan struct{}
	once    sync.Once
}

// watch converts blocking edge waits into callbacks. The wait uses a short
// timeout so Close is observed promptly even on quiet pins.
func (w *periphPin) watch(fn func(PinEvent)) {
	for {
		select {
		case <-w.done:
			return
		default:
		}
		if !w.pin.WaitForEdge(time.Second) {
			continue
		}
		fn(PinEvent{At: time.Now(), Level: bool(w.pin.Read())})
	}
}

func (w *periphPin) Read() (bool, error) {
	return bool(w.pin.Read()), nil
}

func (w *periphPin) Close() error {
	w.once.Do(func() {
		close(w.done)
		_ = w.pin.Halt()
		w.release()
	})
	return nil
}

// ============================================================================
// PinSource
// ============================================================================

// PinSource is one pin's lossless event stream: every transition the
// hardware reports becomes exactly one PinEvent downstream, until the
// source is closed.
type PinSource struct {
	pin  WatchedPin
	feed *Feed[PinEvent]
}

// OpenPinSource claims pin and starts delivering its transitions.
func OpenPinSource(hw Interrupts, pin int, pull Pull, trigger Trigger) (*PinSource, error) {
	s := &PinSource{feed: NewFeed[PinEvent]()}

	wp, err := hw.Watch(pin, pull, trigger, func(ev PinEvent) {
		s.feed.SendMessage(Message[PinEvent]{Payload: ev, At: ev.At})
	})
	if err != nil {
		return nil, err
	}
	s.pin = wp
	return s, nil
}

// Level reads the pin's current physical level.
func (s *PinSource) Level() (bool, error) {
	return s.pin.Read()
}

// Stream pumps the source into a channel for the pipeline stages. The
// channel closes when the source is closed (after delivering everything
// already queued) or when ctx is done.
func (s *PinSource) Stream(ctx context.Context) <-chan PinEvent {
	out := make(chan PinEvent)
	go func() {
		defer close(out)
		for {
			m, ok := s.feed.Recv(ctx)
			if !ok {
				return
			}
			select {
			case out <- m.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close cancels the hardware registration, releases the pin and ends the
// stream. Safe to call more than once.
func (s *PinSource) Close() error {
	err := s.pin.Close()
	s.feed.Close()
	return err
}
