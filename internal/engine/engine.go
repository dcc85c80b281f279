// Package engine defines the audio engine collaborator: the external service
// that resolves, decodes, and streams audio. Sessions drive it through the
// Engine interface and consume its lifecycle events from a channel.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

var ErrEngineUnavailable = errors.New("audio engine unavailable")

// Engine is the control plane to the external audio engine. Calls may block
// on the network; callers pass a context and must tolerate
// ErrEngineUnavailable when the engine node is down.
type Engine interface {
	// Connect binds a guild to a voice channel, creating the underlying
	// player if needed.
	Connect(ctx context.Context, guildID, voiceChannelID string) error
	// Play starts the given track on the guild's player.
	Play(ctx context.Context, guildID string, t track.Track) error
	// StopTrack ends the current track; the engine emits TrackEnded.
	StopTrack(ctx context.Context, guildID string) error
	// Pause pauses or resumes the guild's player.
	Pause(ctx context.Context, guildID string, paused bool) error
	// Seek jumps to the given position in the current track.
	Seek(ctx context.Context, guildID string, pos time.Duration) error
	// Position reports the current playback position.
	Position(guildID string) time.Duration
	// SetVolume applies a 0-100 volume to the guild's player.
	SetVolume(ctx context.Context, guildID string, volume int) error
	// Resolve turns a search query or URL into playable tracks.
	Resolve(ctx context.Context, query string, requester track.Requester) ([]track.Track, error)
	// Destroy tears down the guild's player and voice connection.
	Destroy(ctx context.Context, guildID string) error
	// Events returns the engine's lifecycle event stream.
	Events() <-chan Event
}

// EventType represents an engine lifecycle event type.
type EventType int

const (
	EventTrackStarted   EventType = iota // Track started playing
	EventTrackEnded                      // Track finished playing
	EventQueueExhausted                  // Player has nothing left to play
	EventEngineError                     // Player-level error
	EventNodeConnected                   // Engine node came up
	EventNodeDisconnected                // Engine node went down
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventQueueExhausted:
		return "queue_exhausted"
	case EventEngineError:
		return "engine_error"
	case EventNodeConnected:
		return "node_connected"
	case EventNodeDisconnected:
		return "node_disconnected"
	default:
		return "unknown"
	}
}

// Event represents an engine lifecycle event. Node-level events carry no
// guild id and fan out to every session.
type Event struct {
	Type    EventType
	GuildID string
	Track   *track.Track // set for track events
	Err     error        // set for EventEngineError
	NodeID  string       // set for node events
}
