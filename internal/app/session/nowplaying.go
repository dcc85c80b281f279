package session

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

// Messenger posts and removes the bot's status messages in guild text
// channels. Implementations must be safe for concurrent use.
type Messenger interface {
	// SendNowPlaying posts a now-playing message and returns its id.
	SendNowPlaying(ctx context.Context, channelID string, t track.Track, snap Snapshot) (string, error)
	// SendIdleWarning posts a disconnect countdown warning and returns its id.
	SendIdleWarning(ctx context.Context, channelID string, remaining time.Duration) (string, error)
	// DeleteMessage removes a previously posted message.
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// nowPlaying tracks the single live now-playing message for a session.
// A new announcement replaces the previous message; deletes are best-effort
// because users or moderators may have removed the message already.
type nowPlaying struct {
	mu        sync.Mutex
	messenger Messenger
	channelID string
	messageID string
}

func newNowPlaying(m Messenger) *nowPlaying {
	return &nowPlaying{messenger: m}
}

// Publish deletes the previous now-playing message, if any, then posts a
// fresh one for the given track.
func (n *nowPlaying) Publish(ctx context.Context, channelID string, t track.Track, snap Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.deleteLocked(ctx)

	id, err := n.messenger.SendNowPlaying(ctx, channelID, t, snap)
	if err != nil {
		zlog.Warn().Msgf("failed to post now-playing message: guild_id=%s err=%v", snap.GuildID, err)
		return
	}
	n.channelID = channelID
	n.messageID = id
}

// Clear removes the live now-playing message, if any.
func (n *nowPlaying) Clear(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleteLocked(ctx)
}

func (n *nowPlaying) deleteLocked(ctx context.Context) {
	if n.messageID == "" {
		return
	}
	if err := n.messenger.DeleteMessage(ctx, n.channelID, n.messageID); err != nil {
		zlog.Debug().Msgf("failed to delete now-playing message: channel_id=%s err=%v", n.channelID, err)
	}
	n.channelID = ""
	n.messageID = ""
}
