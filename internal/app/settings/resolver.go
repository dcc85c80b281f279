package settings

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

var (
	// ErrPrimaryUnavailable signals that a write landed on the fallback
	// store only. Recoverable: callers should warn, not fail.
	ErrPrimaryUnavailable = errors.New("settings saved to fallback store only")
	// ErrPersistenceUnavailable signals that both stores rejected a write.
	ErrPersistenceUnavailable = errors.New("settings persistence unavailable")
)

// channelKeywords drive notification-channel auto-detection, matched
// case-insensitively against channel names.
var channelKeywords = []string{"music", "音乐", "song", "歌曲", "audio", "sound", "bot"}

// Channel is a text channel the bot may write to.
type Channel struct {
	ID   string
	Name string
}

// ChannelLister enumerates a guild's writable text channels in a stable order.
type ChannelLister interface {
	TextChannels(guildID string) []Channel
}

// Resolver reads and writes guild settings through a primary durable store
// with a secondary fallback, keeping a last-known-good copy in memory so
// playback never blocks on persistence.
type Resolver struct {
	mu        sync.RWMutex
	primary   Store
	secondary Store
	cache     map[string]GuildSettings
	channels  ChannelLister
}

// NewResolver creates a resolver over the given stores. secondary and
// channels may be nil.
func NewResolver(primary, secondary Store, channels ChannelLister) *Resolver {
	return &Resolver{
		primary:   primary,
		secondary: secondary,
		cache:     make(map[string]GuildSettings),
		channels:  channels,
	}
}

// Get returns the effective settings for a guild. Store failures degrade to
// the last-known-good in-memory value, then to defaults.
func (r *Resolver) Get(ctx context.Context, guildID string) GuildSettings {
	if s, err := r.load(ctx, r.primary, guildID); err == nil {
		return s
	}
	if r.secondary != nil {
		if s, err := r.load(ctx, r.secondary, guildID); err == nil {
			return s
		}
	}

	r.mu.RLock()
	cached, ok := r.cache[guildID]
	r.mu.RUnlock()
	if ok {
		zlog.Warn().Msgf("settings stores unavailable, using last-known-good: guild_id=%s", guildID)
		return cached
	}
	return Defaults(guildID)
}

func (r *Resolver) load(ctx context.Context, store Store, guildID string) (GuildSettings, error) {
	if store == nil {
		return GuildSettings{}, errors.New("no store")
	}
	s, err := store.Get(ctx, guildID)
	if err != nil {
		return GuildSettings{}, err
	}
	if s == nil {
		s2 := Defaults(guildID)
		return s2, nil
	}
	r.remember(*s)
	return *s, nil
}

// Save persists settings, falling back to the secondary store when the
// primary rejects the write. The in-memory copy is updated in every case so
// the session keeps working with the requested values.
func (r *Resolver) Save(ctx context.Context, s GuildSettings) error {
	r.remember(s)

	primaryErr := r.put(ctx, r.primary, s)
	if primaryErr == nil {
		return nil
	}
	zlog.Warn().Msgf("primary settings store write failed: guild_id=%s err=%v", s.GuildID, primaryErr)

	if err := r.put(ctx, r.secondary, s); err != nil {
		return errors.Wrapf(ErrPersistenceUnavailable, "primary: %v, fallback: %v", primaryErr, err)
	}
	return errors.Wrapf(ErrPrimaryUnavailable, "primary: %v", primaryErr)
}

func (r *Resolver) put(ctx context.Context, store Store, s GuildSettings) error {
	if store == nil {
		return errors.New("no store")
	}
	return store.Put(ctx, s)
}

func (r *Resolver) remember(s GuildSettings) {
	r.mu.Lock()
	r.cache[s.GuildID] = s
	r.mu.Unlock()
}

// NotificationChannel resolves where status messages go: the explicitly
// configured channel if set, else the first writable channel whose name
// contains a music-related keyword, else the caller's fallback (typically
// the channel the triggering command came from).
func (r *Resolver) NotificationChannel(ctx context.Context, guildID, fallback string) string {
	s := r.Get(ctx, guildID)
	if s.NowPlayingChannelID != "" {
		return s.NowPlayingChannelID
	}

	if r.channels != nil {
		for _, ch := range r.channels.TextChannels(guildID) {
			name := strings.ToLower(ch.Name)
			for _, kw := range channelKeywords {
				if strings.Contains(name, kw) {
					zlog.Debug().Msgf("auto-detected notification channel: guild_id=%s channel=%s", guildID, ch.Name)
					return ch.ID
				}
			}
		}
	}
	return fallback
}
