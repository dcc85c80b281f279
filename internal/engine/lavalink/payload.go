package lavalink

import (
	"encoding/json"
	"time"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

// Websocket op codes.
const (
	opReady        = "ready"
	opPlayerUpdate = "playerUpdate"
	opStats        = "stats"
	opEvent        = "event"
)

// Event types inside op=event frames.
const (
	eventTrackStart      = "TrackStartEvent"
	eventTrackEnd        = "TrackEndEvent"
	eventTrackException  = "TrackExceptionEvent"
	eventTrackStuck      = "TrackStuckEvent"
	eventWebSocketClosed = "WebSocketClosedEvent"
)

// Track end reasons.
const (
	endReasonFinished   = "finished"
	endReasonLoadFailed = "loadFailed"
	endReasonStopped    = "stopped"
	endReasonReplaced   = "replaced"
	endReasonCleanup    = "cleanup"
)

// Load result types for /v4/loadtracks.
const (
	loadTypeTrack    = "track"
	loadTypePlaylist = "playlist"
	loadTypeSearch   = "search"
	loadTypeEmpty    = "empty"
	loadTypeError    = "error"
)

// wsMessage is the union of all frames the node sends. Reason doubles as
// the track end reason and the voice close reason.
type wsMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`
	GuildID   string `json:"guildId"`

	State struct {
		Time      int64 `json:"time"`
		Position  int64 `json:"position"`
		Connected bool  `json:"connected"`
		Ping      int64 `json:"ping"`
	} `json:"state"`

	Type        string        `json:"type"`
	Track       lavalinkTrack `json:"track"`
	Reason      string        `json:"reason"`
	ThresholdMs int64         `json:"thresholdMs"`
	Code        int           `json:"code"`
	ByRemote    bool          `json:"byRemote"`

	Exception struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Cause    string `json:"cause"`
	} `json:"exception"`
}

type lavalinkTrack struct {
	Encoded string `json:"encoded"`
	Info    struct {
		Identifier string `json:"identifier"`
		Title      string `json:"title"`
		Author     string `json:"author"`
		Length     int64  `json:"length"` // milliseconds
		IsStream   bool   `json:"isStream"`
		URI        string `json:"uri"`
		ArtworkURL string `json:"artworkUrl"`
		SourceName string `json:"sourceName"`
	} `json:"info"`
}

func (lt lavalinkTrack) toTrack() track.Track {
	return track.Track{
		Title:      lt.Info.Title,
		Author:     lt.Info.Author,
		URI:        lt.Info.URI,
		Duration:   time.Duration(lt.Info.Length) * time.Millisecond,
		ArtworkURL: lt.Info.ArtworkURL,
		Source:     lt.Info.SourceName,
		Encoded:    lt.Encoded,
	}
}

// trackUpdate marshals the track half of a player update. Stopping requires
// an explicit "encoded": null, which omitempty would swallow.
type trackUpdate struct {
	Encoded *string
	stop    bool
}

func (t trackUpdate) MarshalJSON() ([]byte, error) {
	if t.stop || t.Encoded == nil {
		return []byte(`{"encoded":null}`), nil
	}
	return json.Marshal(struct {
		Encoded string `json:"encoded"`
	}{Encoded: *t.Encoded})
}

type playerUpdateRequest struct {
	Track    *trackUpdate `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	Volume   *int         `json:"volume,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Voice    *voiceUpdate `json:"voice,omitempty"`
}

type voiceUpdate struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

type loadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type playlistResult struct {
	Info struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"info"`
	Tracks []lavalinkTrack `json:"tracks"`
}

type lavalinkError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
