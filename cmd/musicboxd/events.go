package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events
// ============================================================================
// Events flow out of the playback engine and the loop itself. The loop
// consumes playback events to keep PlayState coherent, and every event is
// re-broadcast to listeners (websocket clients and the like) exactly once.
// ============================================================================

// Event is the marker interface for all loop events.
type Event interface {
	eventMarker()
}

// PlaylistUpdated signals that the active track list changed (selection,
// rescan, or playback running off the end).
type PlaylistUpdated struct{}

// PlaybackStarted signals that a track began playing.
type PlaybackStarted struct{}

// PlaybackPaused signals playback was paused.
type PlaybackPaused struct{}

// PlaybackUnpaused signals playback resumed.
type PlaybackUnpaused struct{}

// PlaybackEnded signals the current track finished.
type PlaybackEnded struct{}

// PlaybackPosition reports elapsed time within the current track.
type PlaybackPosition struct {
	Elapsed time.Duration
}

// ShutdownEvent is the final event broadcast before the loop ends.
type ShutdownEvent struct{}

func (PlaylistUpdated) eventMarker()  {}
func (PlaybackStarted) eventMarker()  {}
func (PlaybackPaused) eventMarker()   {}
func (PlaybackUnpaused) eventMarker() {}
func (PlaybackEnded) eventMarker()    {}
func (PlaybackPosition) eventMarker() {}
func (ShutdownEvent) eventMarker()    {}

// eventName returns the wire discriminator for e.
func eventName(e Event) string {
	switch e.(type) {
	case PlaylistUpdated:
		return "playlist_updated"
	case PlaybackStarted:
		return "playback_started"
	case PlaybackPaused:
		return "playback_paused"
	case PlaybackUnpaused:
		return "playback_unpaused"
	case PlaybackEnded:
		return "playback_ended"
	case PlaybackPosition:
		return "playback_position"
	case ShutdownEvent:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%T)", e)
	}
}

// EventEnvelope is the wire format for events pushed to listeners.
type EventEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// positionData is the JSON payload for "playback_position".
type positionData struct {
	ElapsedMs int64 `json:"elapsed_ms"`
}

// MarshalEventMessage serializes a timestamped event into a JSON envelope.
func MarshalEventMessage(m Message[Event]) ([]byte, error) {
	env := EventEnvelope{Type: eventName(m.Payload)}
	if !m.At.IsZero() {
		ts := m.At
		env.Ts = &ts
	}

	if pos, ok := m.Payload.(PlaybackPosition); ok {
		data, err := json.Marshal(positionData{ElapsedMs: pos.Elapsed.Milliseconds()})
		if err != nil {
			return nil, fmt.Errorf("marshal PlaybackPosition: %w", err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
