// Package command implements the user-facing operations shared by every
// front end: slash commands, message buttons, and the HTTP API all funnel
// into the same handlers here.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/app/playlist"
	"github.com/groovebox-bot/groovebox/internal/app/session"
	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/domain/queue"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
	"github.com/groovebox-bot/groovebox/internal/engine"
)

var (
	ErrNotInVoiceChannel = errors.New("you need to be in a voice channel")
	ErrNothingFound      = errors.New("nothing found for that query")
	ErrUnknownMode       = errors.New("unknown mode")
)

// Invocation describes who issued a command and from where. Front ends
// build one per request.
type Invocation struct {
	GuildID        string
	ChannelID      string          // text channel the command came from
	VoiceChannelID string          // invoker's voice channel, empty if none
	Requester      track.Requester
}

// Handler executes commands against the session registry. All methods are
// safe for concurrent use.
type Handler struct {
	registry  *session.Registry
	engine    engine.Engine
	resolver  *settings.Resolver
	playlists playlist.Store
}

func NewHandler(registry *session.Registry, eng engine.Engine, resolver *settings.Resolver, playlists playlist.Store) *Handler {
	return &Handler{registry: registry, engine: eng, resolver: resolver, playlists: playlists}
}

// Play resolves a query and enqueues the results, joining the invoker's
// voice channel first when needed. top puts the tracks at the queue front.
func (h *Handler) Play(ctx context.Context, inv Invocation, query string, top bool) (string, error) {
	if inv.VoiceChannelID == "" {
		return "", ErrNotInVoiceChannel
	}

	tracks, err := h.engine.Resolve(ctx, query, inv.Requester)
	if err != nil {
		return "", err
	}
	if len(tracks) == 0 {
		return "", ErrNothingFound
	}

	s, err := h.connectedSession(ctx, inv)
	if err != nil {
		return "", err
	}

	res, err := s.Enqueue(ctx, tracks, top)
	if err != nil {
		return "", err
	}

	zlog.Info().Msgf("play: guild_id=%s user=%s added=%d truncated=%d",
		inv.GuildID, inv.Requester.ID, res.Added, res.Truncated)
	return describeEnqueue(tracks, res), nil
}

func describeEnqueue(tracks []track.Track, res session.EnqueueResult) string {
	var b strings.Builder
	switch {
	case res.Added == 0:
		b.WriteString("Queue is full, nothing was added.")
	case res.Added == 1:
		fmt.Fprintf(&b, "Queued **%s**", tracks[0].Title)
	default:
		fmt.Fprintf(&b, "Queued **%d** tracks", res.Added)
	}
	if res.Truncated > 0 && res.Added > 0 {
		fmt.Fprintf(&b, " (%d dropped, queue full)", res.Truncated)
	}
	return b.String()
}

// connectedSession returns the guild session, joining the invoker's voice
// channel first when the session is not bound to one yet.
func (h *Handler) connectedSession(ctx context.Context, inv Invocation) (*session.Session, error) {
	s := h.registry.GetOrCreate(inv.GuildID)
	if s.Snapshot().VoiceChannelID == "" {
		if err := s.Connect(ctx, inv.VoiceChannelID, inv.ChannelID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Join connects the session to the invoker's voice channel.
func (h *Handler) Join(ctx context.Context, inv Invocation) error {
	if inv.VoiceChannelID == "" {
		return ErrNotInVoiceChannel
	}
	s := h.registry.GetOrCreate(inv.GuildID)
	return s.Connect(ctx, inv.VoiceChannelID, inv.ChannelID)
}

// Leave disconnects and removes the session.
func (h *Handler) Leave(ctx context.Context, inv Invocation) {
	h.registry.Destroy(ctx, inv.GuildID)
}

func (h *Handler) Pause(ctx context.Context, inv Invocation) error {
	return h.withSession(inv, func(s *session.Session) error {
		return s.Pause(ctx)
	})
}

func (h *Handler) Resume(ctx context.Context, inv Invocation) error {
	return h.withSession(inv, func(s *session.Session) error {
		return s.Resume(ctx)
	})
}

// Stop ends playback and clears the queue, reporting the discard count.
func (h *Handler) Stop(ctx context.Context, inv Invocation) (int, error) {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return 0, session.ErrNotConnected
	}
	return s.Stop(ctx)
}

// Skip discards the current track plus count-1 queued tracks.
func (h *Handler) Skip(ctx context.Context, inv Invocation, count int) (int, error) {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return 0, session.ErrNotConnected
	}
	return s.Skip(ctx, count)
}

func (h *Handler) Seek(ctx context.Context, inv Invocation, pos time.Duration) error {
	return h.withSession(inv, func(s *session.Session) error {
		return s.Seek(ctx, pos)
	})
}

func (h *Handler) Rewind(ctx context.Context, inv Invocation, by time.Duration) error {
	return h.withSession(inv, func(s *session.Session) error {
		return s.Rewind(ctx, by)
	})
}

func (h *Handler) Volume(ctx context.Context, inv Invocation, volume int) error {
	return h.withSession(inv, func(s *session.Session) error {
		return s.SetVolume(ctx, volume)
	})
}

// Remove drops the queued track at a 1-based position.
func (h *Handler) Remove(inv Invocation, pos int) (track.Track, error) {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return track.Track{}, session.ErrNotConnected
	}
	return s.Remove(pos)
}

func (h *Handler) Move(inv Invocation, from, to int) error {
	return h.withSession(inv, func(s *session.Session) error {
		return s.Move(from, to)
	})
}

// RemoveDuplicates drops repeated tracks and reports how many went.
func (h *Handler) RemoveDuplicates(inv Invocation) (int, error) {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return 0, session.ErrNotConnected
	}
	return len(s.RemoveDuplicates()), nil
}

func (h *Handler) ClearQueue(inv Invocation) (int, error) {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return 0, session.ErrNotConnected
	}
	return s.ClearQueue(), nil
}

// Shuffle sets the shuffle mode: off, normal, or smart.
func (h *Handler) Shuffle(inv Invocation, mode string) error {
	m := queue.ShuffleMode(mode)
	switch m {
	case queue.ShuffleOff, queue.ShuffleNormal, queue.ShuffleSmart:
	default:
		return errors.Wrapf(ErrUnknownMode, "shuffle mode %q", mode)
	}
	return h.withSession(inv, func(s *session.Session) error {
		s.SetShuffle(m)
		return nil
	})
}

// Repeat sets the repeat mode: off, track, or queue.
func (h *Handler) Repeat(inv Invocation, mode string) error {
	m, ok := session.ParseRepeatMode(mode)
	if !ok {
		return errors.Wrapf(ErrUnknownMode, "repeat mode %q", mode)
	}
	return h.withSession(inv, func(s *session.Session) error {
		s.SetRepeat(m)
		return nil
	})
}

// Snapshot returns the session state for status displays.
func (h *Handler) Snapshot(inv Invocation) (session.Snapshot, error) {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return session.Snapshot{}, session.ErrNotConnected
	}
	return s.Snapshot(), nil
}

// SleepTimer schedules a shutdown in the given number of minutes; zero
// cancels a pending timer.
func (h *Handler) SleepTimer(inv Invocation, minutes int) (string, error) {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return "", session.ErrNotConnected
	}
	if minutes == 0 {
		if s.CancelSleepTimer() {
			return "Sleep timer cancelled.", nil
		}
		return "No sleep timer was set.", nil
	}
	if err := s.SetSleepTimer(minutes); err != nil {
		return "", err
	}
	return fmt.Sprintf("Going to sleep in %d minutes.", minutes), nil
}

// SetAlwaysOn toggles 24/7 mode and persists the change.
func (h *Handler) SetAlwaysOn(ctx context.Context, inv Invocation, enabled bool) error {
	return h.updateSettings(ctx, inv, func(gs *settings.GuildSettings) {
		gs.AlwaysOn = enabled
	})
}

// SetDefaultVolume persists the volume applied on future connects.
func (h *Handler) SetDefaultVolume(ctx context.Context, inv Invocation, volume int) error {
	if volume < 0 || volume > 100 {
		return session.ErrInvalidVolume
	}
	return h.updateSettings(ctx, inv, func(gs *settings.GuildSettings) {
		gs.DefaultVolume = volume
	})
}

// SetNowPlayingChannel pins status messages to a channel; empty restores
// auto-detection.
func (h *Handler) SetNowPlayingChannel(ctx context.Context, inv Invocation, channelID string) error {
	return h.updateSettings(ctx, inv, func(gs *settings.GuildSettings) {
		gs.NowPlayingChannelID = channelID
	})
}

// SetAutoLeave toggles leaving voice shortly after the queue ends.
func (h *Handler) SetAutoLeave(ctx context.Context, inv Invocation, enabled bool) error {
	return h.updateSettings(ctx, inv, func(gs *settings.GuildSettings) {
		gs.AutoLeave = enabled
	})
}

// SavePlaylist stores the current track plus the queue under a name,
// overwriting a playlist with the same name. server selects the guild-wide
// scope instead of the invoker's personal one. Returns the track count.
func (h *Handler) SavePlaylist(ctx context.Context, inv Invocation, name string, server bool) (int, error) {
	name, err := playlist.NormalizeName(name)
	if err != nil {
		return 0, err
	}
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return 0, session.ErrNotConnected
	}

	snap := s.Snapshot()
	tracks := make([]track.Track, 0, len(snap.Queue)+1)
	if snap.Current != nil {
		tracks = append(tracks, *snap.Current)
	}
	tracks = append(tracks, snap.Queue...)
	if len(tracks) == 0 {
		return 0, queue.ErrEmptyQueue
	}

	p := playlist.Playlist{
		OwnerID:   h.playlistOwner(inv, server),
		Name:      name,
		Tracks:    tracks,
		UpdatedAt: time.Now(),
	}
	if err := h.playlists.Put(ctx, p); err != nil {
		return 0, err
	}
	zlog.Info().Msgf("playlist saved: owner=%s name=%s tracks=%d", p.OwnerID, name, len(tracks))
	return len(tracks), nil
}

// LoadPlaylist enqueues a saved playlist, joining the invoker's voice
// channel first when needed. Loaded tracks are requested by the loader.
func (h *Handler) LoadPlaylist(ctx context.Context, inv Invocation, name string, server bool) (int, error) {
	name, err := playlist.NormalizeName(name)
	if err != nil {
		return 0, err
	}
	if inv.VoiceChannelID == "" {
		return 0, ErrNotInVoiceChannel
	}

	p, err := h.playlists.Get(ctx, h.playlistOwner(inv, server), name)
	if err != nil {
		return 0, err
	}

	s, err := h.connectedSession(ctx, inv)
	if err != nil {
		return 0, err
	}

	tracks := make([]track.Track, len(p.Tracks))
	for i, t := range p.Tracks {
		t.Requester = inv.Requester
		tracks[i] = t
	}
	res, err := s.Enqueue(ctx, tracks, false)
	return res.Added, err
}

// ListPlaylists returns the playlists in the chosen scope, sorted by name.
func (h *Handler) ListPlaylists(ctx context.Context, inv Invocation, server bool) ([]playlist.Playlist, error) {
	return h.playlists.List(ctx, h.playlistOwner(inv, server))
}

// DeletePlaylist removes a saved playlist.
func (h *Handler) DeletePlaylist(ctx context.Context, inv Invocation, name string, server bool) error {
	name, err := playlist.NormalizeName(name)
	if err != nil {
		return err
	}
	return h.playlists.Delete(ctx, h.playlistOwner(inv, server), name)
}

func (h *Handler) playlistOwner(inv Invocation, server bool) string {
	if server {
		return inv.GuildID
	}
	return inv.Requester.ID
}

// Settings returns the effective settings for display.
func (h *Handler) Settings(ctx context.Context, inv Invocation) settings.GuildSettings {
	return h.resolver.Get(ctx, inv.GuildID)
}

func (h *Handler) updateSettings(ctx context.Context, inv Invocation, mutate func(*settings.GuildSettings)) error {
	gs := h.resolver.Get(ctx, inv.GuildID)
	mutate(&gs)
	err := h.resolver.Save(ctx, gs)
	if err != nil && !errors.Is(err, settings.ErrPrimaryUnavailable) {
		return err
	}

	if s, ok := h.registry.Get(inv.GuildID); ok {
		s.ApplySettings(gs)
	}
	if errors.Is(err, settings.ErrPrimaryUnavailable) {
		zlog.Warn().Msgf("settings saved to fallback only: guild_id=%s", inv.GuildID)
	}
	return nil
}

func (h *Handler) withSession(inv Invocation, fn func(*session.Session) error) error {
	s, ok := h.registry.Get(inv.GuildID)
	if !ok {
		return session.ErrNotConnected
	}
	return fn(s)
}

// UserMessage maps an error to the text shown to the user. Unknown errors
// get a generic message so internals never leak into chat.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotInVoiceChannel):
		return "Join a voice channel first."
	case errors.Is(err, ErrNothingFound):
		return "I couldn't find anything for that."
	case errors.Is(err, session.ErrNotConnected):
		return "I'm not playing anything right now."
	case errors.Is(err, session.ErrNoCurrentTrack):
		return "Nothing is playing."
	case errors.Is(err, session.ErrInvalidVolume):
		return "Volume must be between 0 and 100."
	case errors.Is(err, session.ErrSeekOutOfRange):
		return "That position is past the end of the track."
	case errors.Is(err, session.ErrInvalidSleepDuration):
		return "Sleep timer must be between 1 and 480 minutes."
	case errors.Is(err, queue.ErrEmptyQueue):
		return "The queue is empty."
	case errors.Is(err, queue.ErrInvalidPosition):
		return "That queue position doesn't exist."
	case errors.Is(err, playlist.ErrNotFound):
		return "No playlist by that name."
	case errors.Is(err, playlist.ErrInvalidName):
		return "Playlist names must be 1-64 characters."
	case errors.Is(err, ErrUnknownMode):
		return "Unknown mode."
	case errors.Is(err, engine.ErrEngineUnavailable):
		return "The audio engine is unavailable right now, try again in a moment."
	default:
		return "Something went wrong."
	}
}
