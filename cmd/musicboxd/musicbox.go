package main

import (
	"context"
	"log/slog"
	"time"
)

// previousRestartAfter is how far into a track PreviousTrack restarts the
// current track instead of jumping back.
const previousRestartAfter = 2 * time.Second

// MusicBox is the single owner of playback state. It drains the command and
// event multiplexers one message at a time, drives the player, and forwards
// every event to the listener broadcaster.
type MusicBox struct {
	commands  *Mux[Command]
	events    *Mux[Event]
	listeners *Broadcaster[Event]
	player    Player
	library   *Library
	rescan    func() (*Library, error)

	state     appState
	snapshots *snapshotHolder

	volumeStep float64
	metrics    *Metrics
	logger     *slog.Logger
}

func NewMusicBox(
	player Player,
	library *Library,
	rescan func() (*Library, error),
	commands *Mux[Command],
	events *Mux[Event],
	listeners *Broadcaster[Event],
	vol VolumeConfig,
	metrics *Metrics,
	logger *slog.Logger,
) *MusicBox {
	b := &MusicBox{
		commands:   commands,
		events:     events,
		listeners:  listeners,
		player:     player,
		library:    library,
		rescan:     rescan,
		volumeStep: vol.Step,
		metrics:    metrics,
		logger:     logger,
	}
	b.state.state = StateIdle
	b.state.volume = vol.Initial
	b.snapshots = newSnapshotHolder(b.state.snapshot())
	return b
}

// Snapshots exposes the published state for the HTTP API and status logs.
func (b *MusicBox) Snapshots() *snapshotHolder {
	return b.snapshots
}

// Run processes commands and events until a Shutdown command arrives, both
// multiplexers end, or ctx is cancelled. Commands are checked before events
// on each pass so user input stays responsive under a position-event flood.
func (b *MusicBox) Run(ctx context.Context) error {
	b.logger.Info("music box started",
		"playlists", len(b.library.Names()),
		"volume", b.state.volume)
	b.publish()

	for {
		progressed := false

		msg, cmdStatus := b.commands.TryNext()
		if cmdStatus == PollReady {
			stop := b.handleCommand(msg)
			b.publish()
			if stop {
				return nil
			}
			progressed = true
		}

		ev, evStatus := b.events.TryNext()
		if evStatus == PollReady {
			b.handleEvent(ev)
			b.publish()
			progressed = true
		}

		if progressed {
			continue
		}
		if cmdStatus == PollEnded && evStatus == PollEnded {
			b.logger.Info("all inputs ended")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.commands.Woken():
		case <-b.events.Woken():
		}
	}
}

// handleCommand applies one command to the playback state. Returns true when
// the loop should stop.
func (b *MusicBox) handleCommand(msg Message[Command]) bool {
	name := commandName(msg.Payload)
	b.metrics.Commands.WithLabelValues(name).Inc()
	b.logger.Info("command", "name", name, "at", msg.At)

	switch cmd := msg.Payload.(type) {
	case PlayPause:
		switch b.state.state {
		case StatePlaying:
			b.player.Pause()
			b.state.state = StatePaused
			b.emit(PlaybackPaused{})
		case StatePaused:
			b.player.Resume()
			b.state.state = StatePlaying
			b.emit(PlaybackUnpaused{})
		case StateIdle:
			if b.state.playlist != nil {
				b.play(b.state.track)
			}
		}

	case NextTrack:
		if b.state.playlist != nil {
			b.play(b.state.track + 1)
		}

	case PreviousTrack:
		if b.state.playlist != nil {
			if b.state.elapsed > previousRestartAfter || b.state.track == 0 {
				b.play(b.state.track)
			} else {
				b.play(b.state.track - 1)
			}
		}

	case VolumeUp:
		b.adjustVolume(b.volumeStep)

	case VolumeDown:
		b.adjustVolume(-b.volumeStep)

	case StartPlaylist:
		b.startPlaylist(cmd)

	case Reload:
		b.reload()

	case Status:
		snap := b.state.snapshot()
		b.logger.Info("status",
			"state", string(snap.State),
			"playlist", snap.Playlist,
			"track", snap.Track,
			"volume", snap.Volume,
			"elapsed_ms", snap.ElapsedMs)

	case Shutdown:
		b.player.Stop()
		b.state.clear()
		b.emit(ShutdownEvent{})
		return true
	}
	return false
}

// handleEvent forwards the event to listeners with its original timestamp,
// then folds it into the playback state.
func (b *MusicBox) handleEvent(msg Message[Event]) {
	b.metrics.Events.WithLabelValues(eventName(msg.Payload)).Inc()
	b.listeners.SendMessage(msg)

	switch ev := msg.Payload.(type) {
	case PlaybackPosition:
		b.state.elapsed = ev.Elapsed

	case PlaybackPaused:
		if b.state.state == StatePlaying {
			b.state.state = StatePaused
		}

	case PlaybackUnpaused:
		if b.state.state == StatePaused {
			b.state.state = StatePlaying
		}

	case PlaybackEnded:
		b.logger.Debug("track finished", "track", b.state.track)
		if b.state.state != StateIdle {
			b.play(b.state.track + 1)
		}
	}
}

// emit broadcasts a loop-generated event, stamped now.
func (b *MusicBox) emit(ev Event) {
	b.metrics.Events.WithLabelValues(eventName(ev)).Inc()
	b.listeners.Send(ev)
}

// play stages and starts the track at pos in the active playlist. Positions
// below zero clamp to the first track; positions past the end retire the
// playlist and the box goes idle.
func (b *MusicBox) play(pos int) {
	pl := b.state.playlist
	if pl == nil {
		return
	}
	if pos < 0 {
		pos = 0
	}
	if pos >= pl.Len() {
		b.logger.Info("playlist finished", "name", pl.Name)
		b.player.Stop()
		b.state.clear()
		b.emit(PlaylistUpdated{})
		return
	}

	track := pl.Tracks[pos]
	if err := b.player.Play(track.Path, b.state.volume); err != nil {
		b.logger.Error("play failed", "path", track.Path, "error", err)
		b.player.Stop()
		b.state.clear()
		b.emit(PlaylistUpdated{})
		return
	}
	b.state.track = pos
	b.state.elapsed = 0
	b.state.state = StatePlaying
	b.logger.Info("playing", "playlist", pl.Name, "track", pos, "title", track.Title)
	b.emit(PlaybackStarted{})
}

func (b *MusicBox) startPlaylist(cmd StartPlaylist) {
	pl := b.library.Get(cmd.Name)
	if pl == nil {
		b.logger.Warn("unknown playlist", "name", cmd.Name)
		return
	}
	if !cmd.Force && b.state.state != StateIdle &&
		b.state.playlist != nil && b.state.playlist.Name == pl.Name {
		b.logger.Debug("playlist already active", "name", cmd.Name)
		return
	}
	if pl.Len() == 0 {
		b.logger.Warn("playlist has no tracks", "name", cmd.Name)
		return
	}
	b.state.playlist = pl
	b.emit(PlaylistUpdated{})
	b.play(0)
}

func (b *MusicBox) adjustVolume(delta float64) {
	v := b.state.volume + delta
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if v == b.state.volume {
		return
	}
	b.state.volume = v
	b.player.SetVolume(v)
	b.metrics.Volume.Set(v)
	b.logger.Info("volume changed", "level", v)
}

// reload rescans the media directory. The active playlist is swapped for its
// fresh copy when it still covers the current track, otherwise playback
// stops.
func (b *MusicBox) reload() {
	lib, err := b.rescan()
	if err != nil {
		b.logger.Error("library rescan failed", "error", err)
		return
	}
	b.library = lib

	if b.state.playlist != nil {
		fresh := lib.Get(b.state.playlist.Name)
		if fresh == nil || b.state.track >= fresh.Len() {
			b.player.Stop()
			b.state.clear()
		} else {
			b.state.playlist = fresh
		}
	}
	b.emit(PlaylistUpdated{})
}

func (b *MusicBox) publish() {
	b.snapshots.Store(b.state.snapshot())
}
