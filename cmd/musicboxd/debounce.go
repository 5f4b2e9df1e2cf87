package main

import "time"

// ============================================================================
// Debounce and level-change stages
// ============================================================================
// Physical switches bounce: one press can produce a burst of transitions
// before the level settles. Debounce defers delivery of each transition
// until interval has elapsed with no newer transition, so a burst collapses
// into its final state. Delivery is therefore delayed by at most one
// interval, but the event keeps the instant of the transition itself.
//
// Even debounced, hardware can report the same level twice in a row.
// LevelChanges drops those, guaranteeing strictly alternating output.
// ============================================================================

// Debounce returns a stage that holds at most one pending event and a
// deadline of now+interval, restarting the deadline whenever a newer event
// preempts the pending one. On upstream close a still-pending event is
// flushed before the output closes.
func Debounce(in <-chan PinEvent, interval time.Duration) <-chan PinEvent {
	out := make(chan PinEvent)
	go func() {
		defer close(out)

		timer := time.NewTimer(interval)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		var pending *PinEvent
		for {
			if pending == nil {
				ev, ok := <-in
				if !ok {
					return
				}
				e := ev
				pending = &e
				timer.Reset(interval)
				continue
			}

			select {
			case ev, ok := <-in:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				if !ok {
					out <- *pending
					return
				}
				e := ev
				pending = &e
				timer.Reset(interval)
			case <-timer.C:
				out <- *pending
				pending = nil
			}
		}
	}()
	return out
}

// LevelChanges drops any event whose level equals the previously delivered
// one. initial seeds the comparison and should be the physical pin level
// read at construction, so the first forwarded event is always a real
// change from what the pin showed then.
func LevelChanges(in <-chan PinEvent, initial bool) <-chan PinEvent {
	out := make(chan PinEvent)
	go func() {
		defer close(out)
		last := initial
		for ev := range in {
			if ev.Level == last {
				continue
			}
			last = ev.Level
			out <- ev
		}
	}()
	return out
}
