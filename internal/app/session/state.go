package session

import (
	"time"

	"github.com/groovebox-bot/groovebox/internal/domain/queue"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

// TransportState represents the session transport state.
type TransportState int

const (
	StateIdle    TransportState = iota // Nothing playing
	StatePlaying                       // Track playing
	StatePaused                        // Track paused
)

// String returns the string representation of the state.
func (s TransportState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// RepeatMode controls what happens when a track finishes naturally. Skips
// and stops always discard the finished track.
type RepeatMode string

const (
	RepeatOff   RepeatMode = "off"
	RepeatTrack RepeatMode = "track" // Replay the finished track
	RepeatQueue RepeatMode = "queue" // Requeue the finished track at the tail
)

// ParseRepeatMode validates a user-supplied repeat mode string.
func ParseRepeatMode(s string) (RepeatMode, bool) {
	switch RepeatMode(s) {
	case RepeatOff, RepeatTrack, RepeatQueue:
		return RepeatMode(s), true
	default:
		return "", false
	}
}

// Snapshot is a point-in-time copy of session state, safe to hand to
// front ends without holding the session lock.
type Snapshot struct {
	GuildID        string            `json:"guildId"`
	State          TransportState    `json:"-"`
	StateName      string            `json:"state"`
	Current        *track.Track      `json:"current,omitempty"`
	Position       time.Duration     `json:"position"`
	Volume         int               `json:"volume"`
	Repeat         RepeatMode        `json:"repeat"`
	Shuffle        queue.ShuffleMode `json:"shuffle"`
	Queue          []track.Track     `json:"queue"`
	QueueLength    int               `json:"queueLength"`
	VoiceChannelID string            `json:"voiceChannelId,omitempty"`
	TextChannelID  string            `json:"textChannelId,omitempty"`
	EngineUp       bool              `json:"engineUp"`
	AlwaysOn       bool              `json:"alwaysOn"`
	SleepUntil     *time.Time        `json:"sleepUntil,omitempty"`
}
