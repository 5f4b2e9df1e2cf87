package main

import (
	"time"
)

// ============================================================================
// Gesture classifier
// ============================================================================
// Converts strictly alternating level changes into semantic button
// gestures. Every press/release cycle produces exactly one Press, exactly
// one Release, and exactly one of Click or Hold in between:
//
//	no hold timeout:    Press, Click ................. Release
//	released before H:  Press, Click (at release) .... Release
//	held for H:         Press, Hold (at H) ........... Release
//
// Worst-case gesture latency is therefore bounded by the hold timeout.
// ============================================================================

// GestureKind is the semantic classification of a button interaction.
type GestureKind int

const (
	GesturePress GestureKind = iota
	GestureRelease
	GestureClick
	GestureHold
)

// String returns the kind's wire/log name.
func (k GestureKind) String() string {
	switch k {
	case GesturePress:
		return "press"
	case GestureRelease:
		return "release"
	case GestureClick:
		return "click"
	case GestureHold:
		return "hold"
	default:
		return "unknown"
	}
}

// Gesture is one classified button interaction.
type Gesture struct {
	Kind GestureKind
	At   time.Time
}

// classifier states
const (
	gestureIdle = iota
	gestureAwaitingRelease       // Click/Hold already emitted, no timer armed
	gestureAwaitingReleaseOrHold // hold timer armed
)

// Classify consumes strictly alternating level changes and produces
// gestures. active is the level that means "pressed". hold <= 0 disables
// hold detection, in which case Click is emitted immediately after Press.
// The output closes when the input does.
func Classify(in <-chan PinEvent, active bool, hold time.Duration) <-chan Gesture {
	out := make(chan Gesture)
	go func() {
		defer close(out)

		timer := time.NewTimer(time.Hour)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		state := gestureIdle
		var pressAt time.Time

		for {
			if state == gestureIdle || state == gestureAwaitingRelease {
				ev, ok := <-in
				if !ok {
					return
				}
				switch {
				case state == gestureIdle && ev.Level == active:
					pressAt = ev.At
					out <- Gesture{Kind: GesturePress, At: ev.At}
					if hold > 0 {
						timer.Reset(hold)
						state = gestureAwaitingReleaseOrHold
					} else {
						out <- Gesture{Kind: GestureClick, At: ev.At}
						state = gestureAwaitingRelease
					}
				case state == gestureAwaitingRelease && ev.Level != active:
					out <- Gesture{Kind: GestureRelease, At: ev.At}
					state = gestureIdle
				}
				// Same-level repeats cannot occur after LevelChanges;
				// anything else is a no-op.
				continue
			}

			// gestureAwaitingReleaseOrHold: race the release against
			// the hold timer.
			select {
			case ev, ok := <-in:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				if !ok {
					return
				}
				if ev.Level != active {
					// Released before the hold fired: this press
					// was a click. The Click keeps the press
					// instant; the Release keeps its own.
					out <- Gesture{Kind: GestureClick, At: pressAt}
					out <- Gesture{Kind: GestureRelease, At: ev.At}
					state = gestureIdle
				}
			case at := <-timer.C:
				out <- Gesture{Kind: GestureHold, At: at}
				state = gestureAwaitingRelease
			}
		}
	}()
	return out
}
