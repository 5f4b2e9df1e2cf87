package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPlayer records calls instead of touching the sound card.
type mockPlayer struct {
	plays    []string
	playVols []float64
	pauses   int
	resumes  int
	stops    int
	vols     []float64
	failPath string
}

func (m *mockPlayer) Play(path string, volume float64) error {
	if path == m.failPath {
		return fmt.Errorf("decode %s: %w", path, ErrPlaybackFailure)
	}
	m.plays = append(m.plays, path)
	m.playVols = append(m.playVols, volume)
	return nil
}

func (m *mockPlayer) Pause()              { m.pauses++ }
func (m *mockPlayer) Resume()             { m.resumes++ }
func (m *mockPlayer) Stop()               { m.stops++ }
func (m *mockPlayer) SetVolume(v float64) { m.vols = append(m.vols, v) }
func (m *mockPlayer) Close() error        { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testLibrary(lists map[string][]string) *Library {
	lib := &Library{lists: make(map[string]*Playlist)}
	for name, paths := range lists {
		pl := &Playlist{Name: name, Title: name}
		for _, p := range paths {
			pl.Tracks = append(pl.Tracks, Track{Path: p, Title: p})
		}
		lib.names = append(lib.names, name)
		lib.lists[name] = pl
	}
	return lib
}

type boxFixture struct {
	box      *MusicBox
	player   *mockPlayer
	events   *Receiver[Event]
	commands *Mux[Command]
	evMux    *Mux[Event]
}

func newBoxFixture(t *testing.T, lib *Library) *boxFixture {
	t.Helper()
	player := &mockPlayer{}
	commands := NewMux[Command]()
	events := NewMux[Event]()
	listeners := NewBroadcaster[Event]()
	rescan := func() (*Library, error) { return lib, nil }

	box := NewMusicBox(player, lib, rescan,
		commands, events, listeners,
		VolumeConfig{Step: 0.05, Initial: 0.5},
		NewMetrics(), testLogger())

	return &boxFixture{
		box:      box,
		player:   player,
		events:   listeners.Subscribe(),
		commands: commands,
		evMux:    events,
	}
}

func (f *boxFixture) command(c Command) bool {
	return f.box.handleCommand(NewMessage(c))
}

func (f *boxFixture) event(e Event) {
	f.box.handleEvent(NewMessage[Event](e))
}

func (f *boxFixture) broadcasts() []Event {
	var out []Event
	for _, m := range drainReceiver(f.events) {
		out = append(out, m.Payload)
	}
	return out
}

func twoTrackLib() *Library {
	return testLibrary(map[string][]string{"red": {"red/a.mp3", "red/b.mp3"}})
}

func TestNewBoxStartsIdle(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())

	assert.Equal(t, StateIdle, f.box.state.state)

	snap := f.box.Snapshots().Load()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 0.5, snap.Volume)
}

func TestStartPlaylistPlaysFirstTrack(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())

	f.command(StartPlaylist{Name: "red"})

	require.Equal(t, []string{"red/a.mp3"}, f.player.plays)
	assert.Equal(t, 0.5, f.player.playVols[0])
	assert.Equal(t, []Event{PlaylistUpdated{}, PlaybackStarted{}}, f.broadcasts())
	assert.Equal(t, StatePlaying, f.box.state.state)
}

func TestStartPlaylistIdempotentUnlessForced(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())

	f.command(StartPlaylist{Name: "red"})
	f.command(StartPlaylist{Name: "red"})
	assert.Len(t, f.player.plays, 1, "restart without force should be a no-op")

	f.command(StartPlaylist{Name: "red", Force: true})
	assert.Equal(t, []string{"red/a.mp3", "red/a.mp3"}, f.player.plays)
}

func TestStartPlaylistUnknownNameIsIgnored(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())

	f.command(StartPlaylist{Name: "nope"})
	assert.Empty(t, f.player.plays)
	assert.Empty(t, f.broadcasts())
	assert.Equal(t, StateIdle, f.box.state.state)
}

func TestPlayPauseToggles(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.command(StartPlaylist{Name: "red"})
	f.broadcasts()

	f.command(PlayPause{})
	assert.Equal(t, 1, f.player.pauses)
	assert.Equal(t, StatePaused, f.box.state.state)
	assert.Equal(t, []Event{PlaybackPaused{}}, f.broadcasts())

	f.command(PlayPause{})
	assert.Equal(t, 1, f.player.resumes)
	assert.Equal(t, StatePlaying, f.box.state.state)
	assert.Equal(t, []Event{PlaybackUnpaused{}}, f.broadcasts())
}

func TestPlayPauseIdleWithoutPlaylistDoesNothing(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.command(PlayPause{})
	assert.Empty(t, f.player.plays)
	assert.Equal(t, 0, f.player.pauses)
}

func TestNextTrackAdvancesAndRetiresPlaylist(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.command(StartPlaylist{Name: "red"})
	f.broadcasts()

	f.command(NextTrack{})
	assert.Equal(t, []string{"red/a.mp3", "red/b.mp3"}, f.player.plays)
	assert.Equal(t, 1, f.box.state.track)

	// Past the end: playback stops and the playlist is retired.
	f.command(NextTrack{})
	assert.Equal(t, 1, f.player.stops)
	assert.Equal(t, StateIdle, f.box.state.state)
	assert.Nil(t, f.box.state.playlist)

	evs := f.broadcasts()
	assert.Contains(t, evs, PlaylistUpdated{})
}

func TestPreviousTrackPolicy(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.command(StartPlaylist{Name: "red"})
	f.command(NextTrack{})
	require.Equal(t, 1, f.box.state.track)

	// Early in the track: go back one.
	f.event(PlaybackPosition{Elapsed: time.Second})
	f.command(PreviousTrack{})
	assert.Equal(t, 0, f.box.state.track)

	// On the first track: restart it.
	f.command(PreviousTrack{})
	assert.Equal(t, 0, f.box.state.track)

	// Deep into a later track: restart instead of jumping back.
	f.command(NextTrack{})
	f.event(PlaybackPosition{Elapsed: 5 * time.Second})
	f.command(PreviousTrack{})
	assert.Equal(t, 1, f.box.state.track)

	assert.Equal(t, []string{
		"red/a.mp3", "red/b.mp3", // start, next
		"red/a.mp3", "red/a.mp3", // back, restart
		"red/b.mp3", "red/b.mp3", // next, restart
	}, f.player.plays)
}

func TestVolumeClampsAtBothEnds(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())

	for i := 0; i < 15; i++ {
		f.command(VolumeUp{})
	}
	assert.Equal(t, 1.0, f.box.state.volume)
	last := f.player.vols[len(f.player.vols)-1]
	assert.Equal(t, 1.0, last)

	for i := 0; i < 30; i++ {
		f.command(VolumeDown{})
	}
	assert.Equal(t, 0.0, f.box.state.volume)
}

func TestPlaybackEndedAdvancesThenRetires(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.command(StartPlaylist{Name: "red"})
	f.broadcasts()

	f.event(PlaybackEnded{})
	assert.Equal(t, []string{"red/a.mp3", "red/b.mp3"}, f.player.plays)

	f.event(PlaybackEnded{})
	assert.Equal(t, StateIdle, f.box.state.state)
	assert.Nil(t, f.box.state.playlist)

	// Both incoming events were forwarded, plus the retirement notice.
	evs := f.broadcasts()
	assert.Equal(t, []Event{
		PlaybackEnded{}, PlaybackStarted{},
		PlaybackEnded{}, PlaylistUpdated{},
	}, evs)
}

func TestPlaybackPositionUpdatesElapsed(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.command(StartPlaylist{Name: "red"})

	f.event(PlaybackPosition{Elapsed: 42 * time.Second})
	assert.Equal(t, 42*time.Second, f.box.state.elapsed)

	f.box.publish()
	assert.Equal(t, int64(42000), f.box.Snapshots().Load().ElapsedMs)
}

func TestPlayFailureRetiresPlaylist(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.player.failPath = "red/a.mp3"

	f.command(StartPlaylist{Name: "red"})
	assert.Equal(t, StateIdle, f.box.state.state)
	assert.Nil(t, f.box.state.playlist)
}

func TestReloadSwapsActivePlaylist(t *testing.T) {
	lib := twoTrackLib()
	f := newBoxFixture(t, lib)
	f.command(StartPlaylist{Name: "red"})
	f.command(NextTrack{})
	require.Equal(t, 1, f.box.state.track)

	// Rescan returns a fresh copy that still covers the current track.
	fresh := twoTrackLib()
	f.box.rescan = func() (*Library, error) { return fresh, nil }
	f.command(Reload{})
	assert.Same(t, fresh.Get("red"), f.box.state.playlist)
	assert.Equal(t, 1, f.box.state.track)

	// A shrunken playlist no longer covers the track: stop and clear.
	short := testLibrary(map[string][]string{"red": {"red/a.mp3"}})
	f.box.rescan = func() (*Library, error) { return short, nil }
	f.command(Reload{})
	assert.Equal(t, StateIdle, f.box.state.state)
	assert.Nil(t, f.box.state.playlist)
}

func TestShutdownStopsPlayerAndLoop(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	f.command(StartPlaylist{Name: "red"})
	f.broadcasts()

	stop := f.command(Shutdown{})
	assert.True(t, stop)
	assert.Equal(t, 1, f.player.stops)
	assert.Equal(t, []Event{ShutdownEvent{}}, f.broadcasts())
}

func TestRunProcessesCommandsUntilShutdown(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	cmds := f.commands.NewFeed()

	done := make(chan error, 1)
	go func() {
		done <- f.box.Run(context.Background())
	}()

	cmds.Send(StartPlaylist{Name: "red"})
	cmds.Send(Shutdown{})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on Shutdown")
	}

	assert.Equal(t, []string{"red/a.mp3"}, f.player.plays)
	snap := f.box.Snapshots().Load()
	assert.Equal(t, StateIdle, snap.State)
}

func TestRunForwardsPlayerEvents(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	cmds := f.commands.NewFeed()
	playerFeed := f.evMux.NewFeed()

	done := make(chan error, 1)
	go func() {
		done <- f.box.Run(context.Background())
	}()

	cmds.Send(StartPlaylist{Name: "red"})
	require.Eventually(t, func() bool {
		return f.box.Snapshots().Load().State == StatePlaying
	}, 5*time.Second, 10*time.Millisecond)

	playerFeed.Send(PlaybackEnded{})

	// The loop should advance to the second track on the ended event.
	require.Eventually(t, func() bool {
		return f.box.Snapshots().Load().Track == 1
	}, 5*time.Second, 10*time.Millisecond)

	cmds.Send(Shutdown{})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunEndsWhenAllInputsEnd(t *testing.T) {
	f := newBoxFixture(t, twoTrackLib())
	cmds := f.commands.NewFeed()
	evs := f.evMux.NewFeed()

	done := make(chan error, 1)
	go func() {
		done <- f.box.Run(context.Background())
	}()

	cmds.Close()
	evs.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not end when all inputs ended")
	}
}
