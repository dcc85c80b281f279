package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
	"github.com/groovebox-bot/groovebox/internal/engine"
)

func newTestRegistry(t *testing.T) (*Registry, *mockEngine) {
	t.Helper()
	eng := newMockEngine()
	st := &memStore{data: make(map[string]settings.GuildSettings)}
	r := NewRegistry(testConfig(), eng, newMockMessenger(), &mockRoster{listeners: 1}, settings.NewResolver(st, nil, nil))
	t.Cleanup(func() {
		r.Shutdown(context.Background())
	})
	go r.Run()
	return r, eng
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	r, _ := newTestRegistry(t)

	s1 := r.GetOrCreate("g1")
	s2 := r.GetOrCreate("g1")
	assert.Same(t, s1, s2)

	other := r.GetOrCreate("g2")
	assert.NotSame(t, s1, other)
}

func TestGetWithoutCreate(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, ok := r.Get("g1")
	assert.False(t, ok)

	created := r.GetOrCreate("g1")
	got, ok := r.Get("g1")
	require.True(t, ok)
	assert.Same(t, created, got)
}

func TestDestroyRemovesSession(t *testing.T) {
	r, eng := newTestRegistry(t)

	s := r.GetOrCreate("g1")
	require.NoError(t, s.Connect(context.Background(), "vc1", "tc1"))

	r.Destroy(context.Background(), "g1")
	_, ok := r.Get("g1")
	assert.False(t, ok)
	assert.Equal(t, 1, eng.destroyCount())
}

func TestGuildEventReachesSession(t *testing.T) {
	r, eng := newTestRegistry(t)

	s := r.GetOrCreate("g1")
	require.NoError(t, s.Connect(context.Background(), "vc1", "tc1"))
	_, err := s.Enqueue(context.Background(), []track.Track{
		{Title: "A", URI: "uri:A"}, {Title: "B", URI: "uri:B"},
	}, false)
	require.NoError(t, err)

	a := track.Track{Title: "A", URI: "uri:A"}
	eng.events <- engine.Event{Type: engine.EventTrackEnded, GuildID: "g1", Track: &a}

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Current != nil && snap.Current.Title == "B"
	}, time.Second, 5*time.Millisecond)
}

func TestNodeEventFansOutToAllSessions(t *testing.T) {
	r, eng := newTestRegistry(t)

	s1 := r.GetOrCreate("g1")
	s2 := r.GetOrCreate("g2")

	eng.events <- engine.Event{Type: engine.EventNodeDisconnected, NodeID: "node-1"}
	require.Eventually(t, func() bool {
		return !s1.Snapshot().EngineUp && !s2.Snapshot().EngineUp
	}, time.Second, 5*time.Millisecond)

	eng.events <- engine.Event{Type: engine.EventNodeConnected, NodeID: "node-1"}
	require.Eventually(t, func() bool {
		return s1.Snapshot().EngineUp && s2.Snapshot().EngineUp
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshotsCoverAllSessions(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.GetOrCreate("g1")
	r.GetOrCreate("g2")
	snaps := r.Snapshots()
	require.Len(t, snaps, 2)

	guilds := map[string]bool{}
	for _, s := range snaps {
		guilds[s.GuildID] = true
	}
	assert.True(t, guilds["g1"] && guilds["g2"])
}

func TestEventForUnknownGuildIgnored(t *testing.T) {
	r, eng := newTestRegistry(t)

	a := track.Track{Title: "A", URI: "uri:A"}
	eng.events <- engine.Event{Type: engine.EventTrackStarted, GuildID: "nope", Track: &a}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.Snapshots(), "no session is created for stray events")
}
