package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

// Player is the playback engine as the command/event loop sees it. Track
// completion and position progress come back asynchronously as events, never
// as return values.
type Player interface {
	// Play starts path from the beginning at the given volume, replacing
	// whatever was playing.
	Play(path string, volume float64) error
	// Pause suspends output. No-op when nothing is playing.
	Pause()
	// Resume continues paused output.
	Resume()
	// Stop tears down the current track without emitting a completion
	// event.
	Stop()
	// SetVolume adjusts the output gain, 0 (silent) to 1 (full).
	SetVolume(v float64)
	Close() error
}

const positionInterval = time.Second

// BeepPlayer drives the sound card through the beep speaker. One track plays
// at a time; a completion callback and a position ticker feed events back
// into the loop.
type BeepPlayer struct {
	sampleRate beep.SampleRate
	events     *Feed[Event]
	interval   time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	stream beep.StreamSeekCloser
	format beep.Format
	ctrl   *beep.Ctrl
	vol    *effects.Volume
	done   chan struct{}
}

// NewBeepPlayer initialises the speaker once for the process. Failure here
// means no audio device, which is fatal for a music box.
func NewBeepPlayer(events *Feed[Event], logger *slog.Logger) (*BeepPlayer, error) {
	sr := beep.SampleRate(44100)
	if err := speaker.Init(sr, sr.N(100*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("speaker init: %v: %w", err, ErrPlaybackFailure)
	}
	return &BeepPlayer{sampleRate: sr, events: events, interval: positionInterval, logger: logger}, nil
}

// volumeGain maps the linear 0..1 config scale onto beep's logarithmic
// volume. 1 is unity gain, 0 flips the silent switch instead.
func volumeGain(v float64) float64 {
	return (v - 1) * 5
}

func (p *BeepPlayer) Play(path string, volume float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open track: %v: %w", err, ErrPlaybackFailure)
	}
	stream, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %v: %w", path, err, ErrPlaybackFailure)
	}

	p.mu.Lock()
	p.stopLocked()

	ctrl := &beep.Ctrl{Streamer: beep.Resample(4, format.SampleRate, p.sampleRate, stream)}
	vol := &effects.Volume{
		Streamer: ctrl,
		Base:     2,
		Volume:   volumeGain(volume),
		Silent:   volume <= 0,
	}
	done := make(chan struct{})

	p.stream = stream
	p.format = format
	p.ctrl = ctrl
	p.vol = vol
	p.done = done
	p.mu.Unlock()

	p.logger.Debug("track started", "path", path, "rate", int(format.SampleRate))

	speaker.Play(beep.Seq(vol, beep.Callback(func() {
		p.events.Send(PlaybackEnded{})
	})))
	go p.reportPosition(stream, format, ctrl, done)
	return nil
}

// reportPosition publishes elapsed time periodically while the track runs.
// The stream may only be read while done is still open, and both are checked
// under the speaker lock so a concurrent stop cannot close the stream between
// the check and the read.
func (p *BeepPlayer) reportPosition(stream beep.StreamSeeker, format beep.Format, ctrl *beep.Ctrl, done chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			speaker.Lock()
			select {
			case <-done:
				speaker.Unlock()
				return
			default:
			}
			paused := ctrl.Paused
			pos := stream.Position()
			speaker.Unlock()
			if paused {
				continue
			}
			p.events.Send(PlaybackPosition{Elapsed: format.SampleRate.D(pos)})
		}
	}
}

func (p *BeepPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
}

func (p *BeepPlayer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Paused = false
	speaker.Unlock()
}

func (p *BeepPlayer) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vol == nil {
		return
	}
	speaker.Lock()
	p.vol.Volume = volumeGain(v)
	p.vol.Silent = v <= 0
	speaker.Unlock()
}

func (p *BeepPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// stopLocked clears the speaker before the completion callback can fire, so
// a manual stop never looks like a finished track.
func (p *BeepPlayer) stopLocked() {
	if p.stream == nil {
		return
	}
	speaker.Clear()
	// done is closed and the stream torn down under the speaker lock, the
	// same lock reportPosition holds while it reads the stream.
	speaker.Lock()
	close(p.done)
	_ = p.stream.Close()
	speaker.Unlock()
	p.stream = nil
	p.ctrl = nil
	p.vol = nil
	p.done = nil
}

func (p *BeepPlayer) Close() error {
	p.Stop()
	speaker.Close()
	return nil
}
