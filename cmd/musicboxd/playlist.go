package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Track is one playable file inside a playlist.
type Track struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// Playlist is an ordered list of tracks scanned from one directory.
type Playlist struct {
	Name   string  `json:"name"`
	Title  string  `json:"title"`
	Tracks []Track `json:"tracks"`
}

// Library holds the scanned playlists keyed by name, in config order.
type Library struct {
	root  string
	names []string
	lists map[string]*Playlist
}

// ScanLibrary walks the configured playlists under root. Each playlist maps
// to a directory of the same name; missing directories are created so a
// freshly flashed box starts with empty, fillable playlists. Only .mp3 files
// are picked up, ordered by file name, with titles taken from the file stem.
func ScanLibrary(root string, playlists []PlaylistConfig, logger *slog.Logger) (*Library, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("media dir %s: %v: %w", root, err, ErrStorageUnavailable)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media dir %s is not a directory: %w", root, ErrStorageUnavailable)
	}

	lib := &Library{
		root:  root,
		lists: make(map[string]*Playlist, len(playlists)),
	}
	for _, pc := range playlists {
		dir := filepath.Join(root, pc.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("playlist dir %s: %v: %w", dir, err, ErrStorageUnavailable)
		}

		tracks, err := scanTracks(dir)
		if err != nil {
			return nil, err
		}
		logger.Info("playlist scanned", "name", pc.Name, "tracks", len(tracks))

		lib.names = append(lib.names, pc.Name)
		lib.lists[pc.Name] = &Playlist{
			Name:   pc.Name,
			Title:  pc.title(),
			Tracks: tracks,
		}
	}
	return lib, nil
}

func scanTracks(dir string) ([]Track, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", dir, err, ErrStorageUnavailable)
	}

	var tracks []Track
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ".mp3") {
			continue
		}
		tracks = append(tracks, Track{
			Path:  filepath.Join(dir, name),
			Title: strings.TrimSuffix(name, filepath.Ext(name)),
		})
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Path < tracks[j].Path })
	return tracks, nil
}

// Get returns the named playlist, or nil when it is not configured.
func (l *Library) Get(name string) *Playlist {
	return l.lists[name]
}

// Names returns the playlist names in config order.
func (l *Library) Names() []string {
	return append([]string(nil), l.names...)
}

// Len reports how many tracks the playlist has. Safe on nil.
func (p *Playlist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Tracks)
}
