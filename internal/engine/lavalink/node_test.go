package lavalink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
	"github.com/groovebox-bot/groovebox/internal/engine"
)

var _ engine.Engine = (*Node)(nil)

type fakeVoice struct {
	joined []string
	left   []string
}

func (f *fakeVoice) JoinVoiceChannel(guildID, channelID string) error {
	f.joined = append(f.joined, guildID+":"+channelID)
	return nil
}

func (f *fakeVoice) LeaveVoiceChannel(guildID string) error {
	f.left = append(f.left, guildID)
	return nil
}

func newTestNode() *Node {
	return NewNode(Config{Address: "localhost:2333", Password: "pw", UserID: "bot", NodeID: "main"}, &fakeVoice{})
}

func drain(t *testing.T, n *Node) engine.Event {
	t.Helper()
	select {
	case e := <-n.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
		return engine.Event{}
	}
}

func TestReadyFrameMarksNodeUp(t *testing.T) {
	n := newTestNode()
	n.handleMessage([]byte(`{"op":"ready","resumed":false,"sessionId":"sess-1"}`))

	e := drain(t, n)
	assert.Equal(t, engine.EventNodeConnected, e.Type)
	assert.Equal(t, "main", e.NodeID)

	sessionID, err := n.currentSessionID()
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)
}

func TestTrackStartFrame(t *testing.T) {
	n := newTestNode()
	n.handleMessage([]byte(`{
		"op":"event","type":"TrackStartEvent","guildId":"g1",
		"track":{"encoded":"abc","info":{"title":"Song","author":"Artist","uri":"https://yt/x","length":180000,"sourceName":"youtube"}}
	}`))

	e := drain(t, n)
	assert.Equal(t, engine.EventTrackStarted, e.Type)
	assert.Equal(t, "g1", e.GuildID)
	require.NotNil(t, e.Track)
	assert.Equal(t, "Song", e.Track.Title)
	assert.Equal(t, 3*time.Minute, e.Track.Duration)
	assert.Equal(t, "abc", e.Track.Encoded)
}

func TestTrackEndFrameFiltersSelfInflictedReasons(t *testing.T) {
	n := newTestNode()

	for _, reason := range []string{"replaced", "stopped", "cleanup"} {
		n.handleMessage([]byte(`{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"` + reason + `","track":{"encoded":"abc","info":{"title":"Song"}}}`))
	}
	select {
	case e := <-n.events:
		t.Fatalf("unexpected event for self-inflicted end: %v", e.Type)
	default:
	}

	n.handleMessage([]byte(`{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"finished","track":{"encoded":"abc","info":{"title":"Song"}}}`))
	e := drain(t, n)
	assert.Equal(t, engine.EventTrackEnded, e.Type)
}

func TestTrackEndLoadFailedBecomesEngineError(t *testing.T) {
	n := newTestNode()
	n.handleMessage([]byte(`{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"loadFailed","track":{"encoded":"abc","info":{"title":"Broken"}}}`))

	e := drain(t, n)
	assert.Equal(t, engine.EventEngineError, e.Type)
	assert.Equal(t, "g1", e.GuildID)
	require.Error(t, e.Err)
	require.NotNil(t, e.Track)
	assert.Equal(t, "Broken", e.Track.Title)
}

func TestTrackExceptionFrame(t *testing.T) {
	n := newTestNode()
	n.handleMessage([]byte(`{
		"op":"event","type":"TrackExceptionEvent","guildId":"g1",
		"track":{"encoded":"abc","info":{"title":"Song"}},
		"exception":{"message":"decoder blew up","severity":"fault"}
	}`))

	e := drain(t, n)
	assert.Equal(t, engine.EventEngineError, e.Type)
	require.Error(t, e.Err)
	assert.Contains(t, e.Err.Error(), "decoder blew up")
}

func TestPlayerUpdateTracksPosition(t *testing.T) {
	n := newTestNode()
	n.handleMessage([]byte(`{"op":"playerUpdate","guildId":"g1","state":{"time":1,"position":42000,"connected":true}}`))

	pos := n.Position("g1")
	assert.GreaterOrEqual(t, pos, 42*time.Second)
	assert.Less(t, pos, 43*time.Second)
}

func TestTrackUpdateMarshalling(t *testing.T) {
	enc := "abc"
	raw, err := json.Marshal(playerUpdateRequest{Track: &trackUpdate{Encoded: &enc}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"track":{"encoded":"abc"}}`, string(raw))

	raw, err = json.Marshal(playerUpdateRequest{Track: &trackUpdate{stop: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"track":{"encoded":null}}`, string(raw))
}

func TestResolveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pw", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.RawQuery, "ytsearch")
		_, _ = w.Write([]byte(`{
			"loadType":"search",
			"data":[
				{"encoded":"t1","info":{"title":"First","author":"A","uri":"u1","length":1000}},
				{"encoded":"t2","info":{"title":"Second","author":"B","uri":"u2","length":2000}}
			]
		}`))
	}))
	defer srv.Close()

	n := NewNode(Config{Address: strings.TrimPrefix(srv.URL, "http://"), Password: "pw"}, &fakeVoice{})
	n.handleMessage([]byte(`{"op":"ready","sessionId":"sess-1"}`))

	got, err := n.Resolve(context.Background(), "never gonna", track.Requester{ID: "u1", DisplayName: "dj"})
	require.NoError(t, err)
	require.Len(t, got, 1, "a search takes only the best hit")
	assert.Equal(t, "First", got[0].Title)
	assert.Equal(t, "dj", got[0].Requester.DisplayName)
}

func TestResolvePlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"loadType":"playlist",
			"data":{
				"info":{"name":"Mix","selectedTrack":0},
				"tracks":[
					{"encoded":"t1","info":{"title":"One"}},
					{"encoded":"t2","info":{"title":"Two"}}
				]
			}
		}`))
	}))
	defer srv.Close()

	n := NewNode(Config{Address: strings.TrimPrefix(srv.URL, "http://"), Password: "pw"}, &fakeVoice{})
	n.handleMessage([]byte(`{"op":"ready","sessionId":"sess-1"}`))

	got, err := n.Resolve(context.Background(), "https://example.com/playlist", track.Requester{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"One", "Two"}, []string{got[0].Title, got[1].Title})
}

func TestResolveEmptyAndError(t *testing.T) {
	responses := map[string]string{
		"empty": `{"loadType":"empty","data":{}}`,
		"error": `{"loadType":"error","data":{"message":"video unavailable"}}`,
	}
	var current string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(responses[current]))
	}))
	defer srv.Close()

	n := NewNode(Config{Address: strings.TrimPrefix(srv.URL, "http://"), Password: "pw"}, &fakeVoice{})
	n.handleMessage([]byte(`{"op":"ready","sessionId":"sess-1"}`))

	current = "empty"
	got, err := n.Resolve(context.Background(), "nothing here", track.Requester{})
	require.NoError(t, err)
	assert.Empty(t, got)

	current = "error"
	_, err = n.Resolve(context.Background(), "broken", track.Requester{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video unavailable")
}

func TestResolveWhileDisconnected(t *testing.T) {
	n := newTestNode()
	_, err := n.Resolve(context.Background(), "query", track.Requester{})
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
}

func TestVoiceUpdateWaitsForBothHalves(t *testing.T) {
	var patched bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		patched = true
		var upd playerUpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upd))
		require.NotNil(t, upd.Voice)
		assert.Equal(t, "tok", upd.Voice.Token)
		assert.Equal(t, "sess-d", upd.Voice.SessionID)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	n := NewNode(Config{Address: strings.TrimPrefix(srv.URL, "http://"), Password: "pw"}, &fakeVoice{})
	n.handleMessage([]byte(`{"op":"ready","sessionId":"sess-1"}`))

	// Voice state only: no endpoint yet, nothing to send.
	require.NoError(t, n.HandleVoiceUpdate(context.Background(), "g1", "sess-d", "", ""))
	assert.False(t, patched)

	// Server half arrives, the node gets the full credential set.
	require.NoError(t, n.HandleVoiceUpdate(context.Background(), "g1", "sess-d", "tok", "voice.discord.gg"))
	assert.True(t, patched)
}

func TestConnectRequiresNodeUp(t *testing.T) {
	n := newTestNode()
	err := n.Connect(context.Background(), "g1", "vc1")
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)

	n.handleMessage([]byte(`{"op":"ready","sessionId":"sess-1"}`))
	<-n.events
	require.NoError(t, n.Connect(context.Background(), "g1", "vc1"))
	assert.Equal(t, []string{"g1:vc1"}, n.voice.(*fakeVoice).joined)
}
