package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Commands
// ============================================================================
// Commands represent intent from the input sources (buttons, media keys, OS
// signals, IPC, websocket clients). The central loop consumes them and
// applies policy; nothing else mutates playback state.
// ============================================================================

// Command is the marker interface for all loop commands.
type Command interface {
	commandMarker()
}

// PreviousTrack moves to the previous track, or restarts the current one if
// more than a couple of seconds have elapsed.
type PreviousTrack struct{}

// NextTrack advances to the next track; past the end it stops playback.
type NextTrack struct{}

// PlayPause toggles pause, or starts track 0 if nothing is playing.
type PlayPause struct{}

// VolumeUp raises volume by the configured step, clamped to 1.0.
type VolumeUp struct{}

// VolumeDown lowers volume by the configured step, clamped to 0.0.
type VolumeDown struct{}

// StartPlaylist selects the named stored playlist and plays from track 0.
// Without Force it is a no-op when that playlist is already active.
type StartPlaylist struct {
	Name  string `json:"name"`
	Force bool   `json:"force,omitempty"`
}

// Shutdown stops playback and ends the loop.
type Shutdown struct{}

// Reload rescans every stored playlist from disk.
type Reload struct{}

// Status logs a snapshot of the current state.
type Status struct{}

func (PreviousTrack) commandMarker() {}
func (NextTrack) commandMarker()     {}
func (PlayPause) commandMarker()     {}
func (VolumeUp) commandMarker()      {}
func (VolumeDown) commandMarker()    {}
func (StartPlaylist) commandMarker() {}
func (Shutdown) commandMarker()      {}
func (Reload) commandMarker()        {}
func (Status) commandMarker()        {}

// commandName returns the wire/config discriminator for c.
func commandName(c Command) string {
	switch c.(type) {
	case PreviousTrack:
		return "previous_track"
	case NextTrack:
		return "next_track"
	case PlayPause:
		return "play_pause"
	case VolumeUp:
		return "volume_up"
	case VolumeDown:
		return "volume_down"
	case StartPlaylist:
		return "start_playlist"
	case Shutdown:
		return "shutdown"
	case Reload:
		return "reload"
	case Status:
		return "status"
	default:
		return fmt.Sprintf("unknown(%T)", c)
	}
}

// ============================================================================
// JSON envelope codec
// ============================================================================
// Go has no union types, so commands cross process boundaries (IPC,
// websocket) wrapped in an envelope with a type discriminator.
// ============================================================================

// CommandEnvelope wraps a command with a type discriminator.
type CommandEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalCommand serializes c into a JSON envelope.
func MarshalCommand(c Command) ([]byte, error) {
	env := CommandEnvelope{Type: commandName(c)}

	if sp, ok := c.(StartPlaylist); ok {
		data, err := json.Marshal(sp)
		if err != nil {
			return nil, fmt.Errorf("marshal StartPlaylist: %w", err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

// UnmarshalCommand deserializes a JSON envelope into a concrete Command.
func UnmarshalCommand(data []byte) (Command, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "previous_track":
		return PreviousTrack{}, nil
	case "next_track":
		return NextTrack{}, nil
	case "play_pause":
		return PlayPause{}, nil
	case "volume_up":
		return VolumeUp{}, nil
	case "volume_down":
		return VolumeDown{}, nil
	case "start_playlist":
		var sp StartPlaylist
		if err := json.Unmarshal(env.Data, &sp); err != nil {
			return nil, fmt.Errorf("unmarshal StartPlaylist: %w", err)
		}
		if sp.Name == "" {
			return nil, fmt.Errorf("start_playlist requires a name")
		}
		return sp, nil
	case "shutdown":
		return Shutdown{}, nil
	case "reload":
		return Reload{}, nil
	case "status":
		return Status{}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %q", env.Type)
	}
}
