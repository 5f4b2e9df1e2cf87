package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Button owns one wired hardware button: pin source, debounce, level-change
// filter, gesture classifier, and the mapping from gestures to commands.
type Button struct {
	pin int
	src *PinSource
}

// InputTiming carries the shared button timing knobs.
type InputTiming struct {
	Debounce time.Duration
	Hold     time.Duration
}

// StartButton claims cfg's pin and wires the full classification pipeline
// into its own feed on the command multiplexer, so one button's gestures
// stay ordered end to end regardless of other sources. The hold timer is
// armed only when the button has a hold command assigned.
func StartButton(ctx context.Context, hw Interrupts, cfg ButtonConfig, timing InputTiming, commands *Mux[Command], metrics *Metrics, logger *slog.Logger) (*Button, error) {
	click, err := cfg.Click.Command()
	if err != nil {
		return nil, fmt.Errorf("button pin %d click: %w", cfg.Pin, err)
	}

	var holdCmd Command
	hold := time.Duration(0)
	if cfg.Hold != nil {
		holdCmd, err = cfg.Hold.Command()
		if err != nil {
			return nil, fmt.Errorf("button pin %d hold: %w", cfg.Pin, err)
		}
		hold = timing.Hold
	}

	src, err := OpenPinSource(hw, cfg.Pin, cfg.pull(), TriggerBoth)
	if err != nil {
		return nil, err
	}

	initial, err := src.Level()
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("read pin %d: %v: %w", cfg.Pin, err, ErrHardwareFault)
	}

	logger.Debug("button wired",
		"pin", cfg.Pin,
		"active", cfg.Active,
		"click", commandName(click),
		"hold", cfg.Hold != nil)

	gestures := Classify(
		LevelChanges(Debounce(src.Stream(ctx), timing.Debounce), initial),
		cfg.activeLevel(),
		hold,
	)

	feed := commands.NewFeed()
	go func() {
		defer feed.Close()
		for g := range gestures {
			metrics.Gestures.WithLabelValues(g.Kind.String()).Inc()
			logger.Debug("button gesture", "pin", cfg.Pin, "kind", g.Kind.String())

			switch g.Kind {
			case GestureClick:
				feed.SendMessage(Message[Command]{Payload: click, At: g.At})
			case GestureHold:
				if holdCmd != nil {
					feed.SendMessage(Message[Command]{Payload: holdCmd, At: g.At})
				}
			}
		}
	}()

	return &Button{pin: cfg.Pin, src: src}, nil
}

// Close releases the button's pin. Downstream stages drain and end, and the
// multiplexer drops the button's feed without disturbing other sources.
func (b *Button) Close() error {
	return b.src.Close()
}
