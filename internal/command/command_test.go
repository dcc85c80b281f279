package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groovebox-bot/groovebox/internal/app/playlist"
	"github.com/groovebox-bot/groovebox/internal/app/session"
	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/domain/queue"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
	"github.com/groovebox-bot/groovebox/internal/engine"
	"github.com/groovebox-bot/groovebox/internal/infra/store"
)

type stubEngine struct {
	mu      sync.Mutex
	events  chan engine.Event
	results []track.Track
	played  []track.Track
}

func newStubEngine(results ...track.Track) *stubEngine {
	return &stubEngine{events: make(chan engine.Event, 16), results: results}
}

func (s *stubEngine) Connect(context.Context, string, string) error { return nil }

func (s *stubEngine) Play(_ context.Context, _ string, t track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, t)
	return nil
}

func (s *stubEngine) StopTrack(context.Context, string) error           { return nil }
func (s *stubEngine) Pause(context.Context, string, bool) error         { return nil }
func (s *stubEngine) Seek(context.Context, string, time.Duration) error { return nil }
func (s *stubEngine) Position(string) time.Duration                     { return 0 }
func (s *stubEngine) SetVolume(context.Context, string, int) error      { return nil }
func (s *stubEngine) Destroy(context.Context, string) error             { return nil }
func (s *stubEngine) Events() <-chan engine.Event                       { return s.events }

func (s *stubEngine) Resolve(context.Context, string, track.Requester) ([]track.Track, error) {
	return s.results, nil
}

type stubMessenger struct{}

func (stubMessenger) SendNowPlaying(context.Context, string, track.Track, session.Snapshot) (string, error) {
	return "np-1", nil
}

func (stubMessenger) SendIdleWarning(context.Context, string, time.Duration) (string, error) {
	return "warn-1", nil
}

func (stubMessenger) DeleteMessage(context.Context, string, string) error { return nil }

type stubRoster struct{}

func (stubRoster) ListenerCount(string, string) int { return 1 }

type stubStore struct {
	mu   sync.Mutex
	data map[string]settings.GuildSettings
}

func (s *stubStore) Get(_ context.Context, guildID string) (*settings.GuildSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs, ok := s.data[guildID]
	if !ok {
		return nil, nil
	}
	return &gs, nil
}

func (s *stubStore) Put(_ context.Context, gs settings.GuildSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[gs.GuildID] = gs
	return nil
}

func newTestHandler(t *testing.T, eng *stubEngine) (*Handler, *session.Registry) {
	t.Helper()
	resolver := settings.NewResolver(&stubStore{data: make(map[string]settings.GuildSettings)}, nil, nil)
	reg := session.NewRegistry(session.DefaultConfig(), eng, stubMessenger{}, stubRoster{}, resolver)
	t.Cleanup(func() { reg.Shutdown(context.Background()) })
	go reg.Run()
	return NewHandler(reg, eng, resolver, store.NewPlaylistMemory()), reg
}

func inv() Invocation {
	return Invocation{
		GuildID:        "g1",
		ChannelID:      "tc1",
		VoiceChannelID: "vc1",
		Requester:      track.Requester{ID: "u1", DisplayName: "dj"},
	}
}

func TestPlayRequiresVoiceChannel(t *testing.T) {
	h, _ := newTestHandler(t, newStubEngine())

	i := inv()
	i.VoiceChannelID = ""
	_, err := h.Play(context.Background(), i, "some song", false)
	assert.ErrorIs(t, err, ErrNotInVoiceChannel)
}

func TestPlayNothingFound(t *testing.T) {
	h, _ := newTestHandler(t, newStubEngine())
	_, err := h.Play(context.Background(), inv(), "nope", false)
	assert.ErrorIs(t, err, ErrNothingFound)
}

func TestPlayConnectsAndEnqueues(t *testing.T) {
	eng := newStubEngine(track.Track{Title: "Song", URI: "uri:s", Encoded: "enc"})
	h, reg := newTestHandler(t, eng)

	msg, err := h.Play(context.Background(), inv(), "song", false)
	require.NoError(t, err)
	assert.Contains(t, msg, "Song")

	s, ok := reg.Get("g1")
	require.True(t, ok)
	snap := s.Snapshot()
	assert.Equal(t, "vc1", snap.VoiceChannelID)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "Song", snap.Current.Title)
}

func TestCommandsWithoutSession(t *testing.T) {
	h, _ := newTestHandler(t, newStubEngine())

	assert.ErrorIs(t, h.Pause(context.Background(), inv()), session.ErrNotConnected)
	_, err := h.Skip(context.Background(), inv(), 1)
	assert.ErrorIs(t, err, session.ErrNotConnected)
	_, err = h.Stop(context.Background(), inv())
	assert.ErrorIs(t, err, session.ErrNotConnected)
	_, err = h.Snapshot(inv())
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestShuffleAndRepeatValidateModes(t *testing.T) {
	eng := newStubEngine(track.Track{Title: "Song", URI: "uri:s"})
	h, _ := newTestHandler(t, eng)
	_, err := h.Play(context.Background(), inv(), "song", false)
	require.NoError(t, err)

	assert.ErrorIs(t, h.Shuffle(inv(), "sideways"), ErrUnknownMode)
	assert.NoError(t, h.Shuffle(inv(), "smart"))
	assert.ErrorIs(t, h.Repeat(inv(), "forever"), ErrUnknownMode)
	assert.NoError(t, h.Repeat(inv(), "queue"))

	snap, err := h.Snapshot(inv())
	require.NoError(t, err)
	assert.Equal(t, session.RepeatQueue, snap.Repeat)
}

func TestSettingsUpdateReachesLiveSession(t *testing.T) {
	eng := newStubEngine(track.Track{Title: "Song", URI: "uri:s"})
	h, _ := newTestHandler(t, eng)
	_, err := h.Play(context.Background(), inv(), "song", false)
	require.NoError(t, err)

	require.NoError(t, h.SetAlwaysOn(context.Background(), inv(), true))
	snap, err := h.Snapshot(inv())
	require.NoError(t, err)
	assert.True(t, snap.AlwaysOn)

	gs := h.Settings(context.Background(), inv())
	assert.True(t, gs.AlwaysOn)
}

func TestSetDefaultVolumeValidates(t *testing.T) {
	h, _ := newTestHandler(t, newStubEngine())
	assert.ErrorIs(t, h.SetDefaultVolume(context.Background(), inv(), 101), session.ErrInvalidVolume)
	require.NoError(t, h.SetDefaultVolume(context.Background(), inv(), 25))
	assert.Equal(t, 25, h.Settings(context.Background(), inv()).DefaultVolume)
}

func TestSleepTimer(t *testing.T) {
	eng := newStubEngine(track.Track{Title: "Song", URI: "uri:s"})
	h, _ := newTestHandler(t, eng)
	_, err := h.Play(context.Background(), inv(), "song", false)
	require.NoError(t, err)

	msg, err := h.SleepTimer(inv(), 0)
	require.NoError(t, err)
	assert.Equal(t, "No sleep timer was set.", msg)

	_, err = h.SleepTimer(inv(), 999)
	assert.ErrorIs(t, err, session.ErrInvalidSleepDuration)

	msg, err = h.SleepTimer(inv(), 15)
	require.NoError(t, err)
	assert.Contains(t, msg, "15")

	msg, err = h.SleepTimer(inv(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Sleep timer cancelled.", msg)
}

func TestPlaylistSaveLoadRoundTrip(t *testing.T) {
	eng := newStubEngine(track.Track{Title: "Song", URI: "uri:s", Encoded: "enc"})
	h, _ := newTestHandler(t, eng)
	_, err := h.Play(context.Background(), inv(), "song", false)
	require.NoError(t, err)

	n, err := h.SavePlaylist(context.Background(), inv(), "  mix  ", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the playing track counts")

	_, err = h.Stop(context.Background(), inv())
	require.NoError(t, err)

	added, err := h.LoadPlaylist(context.Background(), inv(), "mix", false)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	snap, err := h.Snapshot(inv())
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "Song", snap.Current.Title)
	assert.Equal(t, "dj", snap.Current.Requester.DisplayName, "loaded tracks belong to the loader")
}

func TestPlaylistScopesAreSeparate(t *testing.T) {
	eng := newStubEngine(track.Track{Title: "Song", URI: "uri:s"})
	h, _ := newTestHandler(t, eng)
	_, err := h.Play(context.Background(), inv(), "song", false)
	require.NoError(t, err)

	_, err = h.SavePlaylist(context.Background(), inv(), "mine", false)
	require.NoError(t, err)

	lists, err := h.ListPlaylists(context.Background(), inv(), true)
	require.NoError(t, err)
	assert.Empty(t, lists, "a personal playlist is invisible to the server scope")

	_, err = h.SavePlaylist(context.Background(), inv(), "ours", true)
	require.NoError(t, err)
	lists, err = h.ListPlaylists(context.Background(), inv(), true)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, "ours", lists[0].Name)

	_, err = h.LoadPlaylist(context.Background(), inv(), "ours", false)
	assert.ErrorIs(t, err, playlist.ErrNotFound, "server playlists do not leak into the personal scope")
}

func TestPlaylistValidation(t *testing.T) {
	h, _ := newTestHandler(t, newStubEngine())

	_, err := h.SavePlaylist(context.Background(), inv(), "   ", false)
	assert.ErrorIs(t, err, playlist.ErrInvalidName)

	_, err = h.SavePlaylist(context.Background(), inv(), "mix", false)
	assert.ErrorIs(t, err, session.ErrNotConnected)

	require.NoError(t, h.Join(context.Background(), inv()))
	_, err = h.SavePlaylist(context.Background(), inv(), "mix", false)
	assert.ErrorIs(t, err, queue.ErrEmptyQueue, "nothing playing, nothing queued")

	_, err = h.LoadPlaylist(context.Background(), inv(), "mix", false)
	assert.ErrorIs(t, err, playlist.ErrNotFound)
	assert.ErrorIs(t, h.DeletePlaylist(context.Background(), inv(), "mix", false), playlist.ErrNotFound)
}

func TestUserMessageNeverLeaksInternals(t *testing.T) {
	assert.Equal(t, "Join a voice channel first.", UserMessage(ErrNotInVoiceChannel))
	assert.Equal(t, "Volume must be between 0 and 100.", UserMessage(session.ErrInvalidVolume))
	assert.Equal(t, "No playlist by that name.", UserMessage(playlist.ErrNotFound))
	assert.Equal(t, "Something went wrong.", UserMessage(assert.AnError))
	assert.Empty(t, UserMessage(nil))
}
