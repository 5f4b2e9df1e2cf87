package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInterrupts is an in-memory hardware layer for pipeline tests.
type fakeInterrupts struct {
	mu     sync.Mutex
	pins   map[int]*fakePin
	levels map[int]bool // initial level per pin, default low
}

func newFakeInterrupts() *fakeInterrupts {
	return &fakeInterrupts{
		pins:   make(map[int]*fakePin),
		levels: make(map[int]bool),
	}
}

// preset fixes a pin's idle level before it is claimed.
func (f *fakeInterrupts) preset(pin int, level bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = level
}

func (f *fakeInterrupts) Watch(pin int, pull Pull, trigger Trigger, fn func(PinEvent)) (WatchedPin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pins[pin]; ok {
		return nil, ErrPinUnavailable
	}
	p := &fakePin{fn: fn, level: f.levels[pin]}
	f.pins[pin] = p
	return p, nil
}

func (f *fakeInterrupts) pin(n int) *fakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[n]
}

type fakePin struct {
	mu    sync.Mutex
	level bool
	fn    func(PinEvent)
}

func (p *fakePin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

func (p *fakePin) Close() error { return nil }

// set flips the level and fires the interrupt callback, like an edge would.
func (p *fakePin) set(level bool) {
	p.mu.Lock()
	p.level = level
	fn := p.fn
	p.mu.Unlock()
	fn(PinEvent{At: time.Now(), Level: level})
}

var testTiming = InputTiming{Debounce: 5 * time.Millisecond, Hold: 120 * time.Millisecond}

func TestButtonClickSendsClickCommand(t *testing.T) {
	hw := newFakeInterrupts()
	commands := NewMux[Command]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := ButtonConfig{
		Pin:    17,
		Active: "high",
		Click:  CommandSpec{Type: "next_track"},
		Hold:   &CommandSpec{Type: "shutdown"},
	}
	btn, err := StartButton(ctx, hw, cfg, testTiming, commands, NewMetrics(), testLogger())
	require.NoError(t, err)
	defer btn.Close()

	pin := hw.pin(17)
	pin.set(true)
	time.Sleep(40 * time.Millisecond) // settled, but well before the hold
	pin.set(false)

	msg := nextOrFail(t, commands)
	assert.Equal(t, NextTrack{}, msg.Payload)
}

func TestButtonHoldSendsHoldCommand(t *testing.T) {
	hw := newFakeInterrupts()
	commands := NewMux[Command]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := ButtonConfig{
		Pin:    17,
		Active: "high",
		Click:  CommandSpec{Type: "next_track"},
		Hold:   &CommandSpec{Type: "shutdown"},
	}
	_, err := StartButton(ctx, hw, cfg, testTiming, commands, NewMetrics(), testLogger())
	require.NoError(t, err)

	pin := hw.pin(17)
	pin.set(true)

	// The hold command fires from the timer alone, before any release.
	msg := nextOrFail(t, commands)
	assert.Equal(t, Shutdown{}, msg.Payload)

	pin.set(false)
}

func TestButtonWithoutHoldClicksImmediately(t *testing.T) {
	hw := newFakeInterrupts()
	commands := NewMux[Command]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := ButtonConfig{
		Pin:    5,
		Active: "high",
		Click:  CommandSpec{Type: "play_pause"},
	}
	_, err := StartButton(ctx, hw, cfg, testTiming, commands, NewMetrics(), testLogger())
	require.NoError(t, err)

	// No hold assigned: the click arrives without waiting for release.
	hw.pin(5).set(true)
	msg := nextOrFail(t, commands)
	assert.Equal(t, PlayPause{}, msg.Payload)
}

func TestButtonActiveLowClick(t *testing.T) {
	hw := newFakeInterrupts()
	commands := NewMux[Command]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pull-up wiring: line idles high, pressing drives it low.
	cfg := ButtonConfig{
		Pin:    22,
		Pull:   "up",
		Active: "low",
		Click:  CommandSpec{Type: "play_pause"},
	}

	// The line idles high before the button is wired.
	hw.preset(22, true)

	btn, err := StartButton(ctx, hw, cfg, testTiming, commands, NewMetrics(), testLogger())
	require.NoError(t, err)
	defer btn.Close()

	pin := hw.pin(22)
	pin.set(false) // press
	time.Sleep(40 * time.Millisecond)
	pin.set(true) // release

	// Hold is unset, so a single click per press cycle.
	msg := nextOrFail(t, commands)
	assert.Equal(t, PlayPause{}, msg.Payload)

	_, status := commands.TryNext()
	assert.Equal(t, PollPending, status)
}

func TestButtonCloseEndsItsFeed(t *testing.T) {
	hw := newFakeInterrupts()
	commands := NewMux[Command]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := ButtonConfig{Pin: 17, Active: "high", Click: CommandSpec{Type: "play_pause"}}
	btn, err := StartButton(ctx, hw, cfg, testTiming, commands, NewMetrics(), testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, commands.Len())

	require.NoError(t, btn.Close())

	// The close cascades through every stage; the mux prunes the feed on
	// its next visiting pass.
	require.Eventually(t, func() bool {
		_, status := commands.TryNext()
		return status == PollEnded
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, commands.Len())
}

func TestButtonDoubleClaimFails(t *testing.T) {
	hw := newFakeInterrupts()
	commands := NewMux[Command]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := ButtonConfig{Pin: 17, Active: "high", Click: CommandSpec{Type: "play_pause"}}
	_, err := StartButton(ctx, hw, cfg, testTiming, commands, NewMetrics(), testLogger())
	require.NoError(t, err)

	_, err = StartButton(ctx, hw, cfg, testTiming, commands, NewMetrics(), testLogger())
	assert.ErrorIs(t, err, ErrPinUnavailable)
}
