package main

import (
	"sync"
	"time"
)

// PlaybackState is the coarse player mode exposed to listeners and the API.
type PlaybackState string

const (
	StateIdle    PlaybackState = "idle"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// appState is the loop-owned playback state. Only the command/event loop
// reads or writes it; everyone else sees copies via the snapshot holder.
type appState struct {
	state    PlaybackState
	playlist *Playlist
	track    int
	volume   float64
	elapsed  time.Duration
}

// currentTrack returns the staged track, or nil when nothing is staged.
func (s *appState) currentTrack() *Track {
	if s.playlist == nil || s.track < 0 || s.track >= s.playlist.Len() {
		return nil
	}
	return &s.playlist.Tracks[s.track]
}

// clear drops the staged playlist and resets playback to idle. Volume is
// kept so the box does not blast after a playlist runs out.
func (s *appState) clear() {
	s.state = StateIdle
	s.playlist = nil
	s.track = 0
	s.elapsed = 0
}

// Snapshot is a read-only copy of the playback state, safe to hand to HTTP
// handlers and log lines.
type Snapshot struct {
	State     PlaybackState `json:"state"`
	Playlist  string        `json:"playlist,omitempty"`
	Title     string        `json:"title,omitempty"`
	Track     int           `json:"track"`
	TrackName string        `json:"track_name,omitempty"`
	Tracks    int           `json:"tracks"`
	Volume    float64       `json:"volume"`
	ElapsedMs int64         `json:"elapsed_ms"`
}

func (s *appState) snapshot() Snapshot {
	snap := Snapshot{
		State:     s.state,
		Track:     s.track,
		Volume:    s.volume,
		ElapsedMs: s.elapsed.Milliseconds(),
	}
	if s.playlist != nil {
		snap.Playlist = s.playlist.Name
		snap.Title = s.playlist.Title
		snap.Tracks = s.playlist.Len()
	}
	if t := s.currentTrack(); t != nil {
		snap.TrackName = t.Title
	}
	return snap
}

// snapshotHolder publishes the latest snapshot to concurrent readers. The
// loop stores after every handled command or event.
type snapshotHolder struct {
	mu   sync.RWMutex
	snap Snapshot
}

func newSnapshotHolder(initial Snapshot) *snapshotHolder {
	return &snapshotHolder{snap: initial}
}

func (h *snapshotHolder) Store(s Snapshot) {
	h.mu.Lock()
	h.snap = s
	h.mu.Unlock()
}

func (h *snapshotHolder) Load() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}
