// Package settings resolves effective per-guild configuration through a
// cascade of stores: explicit persisted values, channel auto-detection, and
// caller-supplied defaults.
package settings

import "context"

// GuildSettings is the durable per-guild configuration record.
type GuildSettings struct {
	GuildID             string `json:"guildId"`
	NowPlayingChannelID string `json:"nowPlayingChannelId"` // empty = auto-detect
	DefaultVolume       int    `json:"defaultVolume"`       // 0-100
	AlwaysOn            bool   `json:"alwaysOn"`            // suppress idle auto-disconnect
	AutoLeave           bool   `json:"autoLeave"`           // leave voice when queue ends
	MaxQueueSize        int    `json:"maxQueueSize"`
}

const (
	DefaultVolume       = 50
	DefaultMaxQueueSize = 100
)

// Defaults returns the settings applied when nothing is persisted for a guild.
func Defaults(guildID string) GuildSettings {
	return GuildSettings{
		GuildID:       guildID,
		DefaultVolume: DefaultVolume,
		MaxQueueSize:  DefaultMaxQueueSize,
	}
}

// Store persists guild settings. Get returns (nil, nil) when no record
// exists for the guild.
type Store interface {
	Get(ctx context.Context, guildID string) (*GuildSettings, error)
	Put(ctx context.Context, s GuildSettings) error
}
