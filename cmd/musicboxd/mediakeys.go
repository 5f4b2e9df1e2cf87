package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"time"
)

// Linux input event types and codes (from <linux/input.h>)
const (
	evKey = 0x01

	keyMute         = 113
	keyVolumeDown   = 114
	keyVolumeUp     = 115
	keyNextSong     = 163
	keyPlayPause    = 164
	keyPreviousSong = 165
	keyStopCD       = 166
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

func (ev inputEvent) at() time.Time {
	return time.Unix(ev.Sec, ev.Usec*int64(time.Microsecond))
}

// readInputEvents reads input events from a device file and sends them to a
// channel. Runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(f *os.File, events chan<- inputEvent) {
	defer close(events)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// mediaKeyCommand maps a media key code to its command. Volume keys also act
// on key repeat so holding the key keeps ramping.
func mediaKeyCommand(code uint16) (Command, bool) {
	switch code {
	case keyPlayPause, keyStopCD:
		return PlayPause{}, true
	case keyNextSong:
		return NextTrack{}, true
	case keyPreviousSong:
		return PreviousTrack{}, true
	case keyVolumeUp:
		return VolumeUp{}, true
	case keyVolumeDown, keyMute:
		return VolumeDown{}, true
	default:
		return nil, false
	}
}

func repeatable(code uint16) bool {
	return code == keyVolumeUp || code == keyVolumeDown
}

// StartMediaKeys watches each configured input device and turns media key
// presses into commands. Each device gets its own feed so a stalled device
// cannot reorder another device's keys. Devices that fail to open are
// skipped with a warning; keyboards come and go on these boxes.
func StartMediaKeys(devices []string, commands *Mux[Command], logger *slog.Logger) {
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			logger.Warn("skipping input device", "device", dev, "error", err)
			continue
		}
		logger.Info("watching input device", "device", dev)

		events := make(chan inputEvent)
		go readInputEvents(f, events)

		feed := commands.NewFeed()
		go func(dev string) {
			defer feed.Close()
			defer f.Close()
			for ev := range events {
				if ev.Type != evKey {
					continue
				}
				if ev.Value != evValuePress && !(ev.Value == evValueRepeat && repeatable(ev.Code)) {
					continue
				}
				cmd, ok := mediaKeyCommand(ev.Code)
				if !ok {
					continue
				}
				logger.Debug("media key", "device", dev, "code", ev.Code, "command", commandName(cmd))
				feed.SendMessage(Message[Command]{Payload: cmd, At: ev.at()})
			}
			logger.Warn("input device closed", "device", dev)
		}(dev)
	}
}
