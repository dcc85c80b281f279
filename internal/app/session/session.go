// Package session implements the per-guild playback coordinator: one actor
// per guild owning the queue, the transport state machine, the now-playing
// message, and the idle auto-disconnect countdown. All mutations funnel
// through the session mutex, so there is a single writer per guild.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/domain/queue"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
	"github.com/groovebox-bot/groovebox/internal/engine"
)

// Errors
var (
	ErrNoCurrentTrack       = errors.New("no track playing")
	ErrNotConnected         = errors.New("not connected to a voice channel")
	ErrInvalidVolume        = errors.New("volume must be between 0 and 100")
	ErrSeekOutOfRange       = errors.New("position is beyond the end of the track")
	ErrInvalidSleepDuration = errors.New("sleep timer must be between 1 and 480 minutes")
	ErrNoTracks             = errors.New("no tracks to enqueue")
)

const (
	minSleepMinutes = 1
	maxSleepMinutes = 480

	// cleanupTimeout bounds best-effort message deletes triggered from
	// timer goroutines, which have no caller context.
	cleanupTimeout = 10 * time.Second
)

// VoiceRoster reports how many human listeners share a voice channel with
// the bot. The bot itself is never counted.
type VoiceRoster interface {
	ListenerCount(guildID, channelID string) int
}

// Config holds session tuning knobs.
type Config struct {
	IdleStages    IdleStages
	QueueEndGrace time.Duration // Delay before auto-leave once the queue ends
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		IdleStages:    DefaultIdleStages(),
		QueueEndGrace: 30 * time.Second,
	}
}

// EnqueueResult reports what an enqueue did.
type EnqueueResult struct {
	Added     int
	Truncated int // Tracks dropped because the queue hit its size limit
	Started   *track.Track
}

// Session coordinates playback for a single guild.
type Session struct {
	mu sync.Mutex

	guildID  string
	config   Config
	engine   engine.Engine
	resolver *settings.Resolver
	roster   VoiceRoster

	queue   *queue.Queue
	state   TransportState
	current *track.Track
	volume  int
	repeat  RepeatMode
	shuffle queue.ShuffleMode
	rng     *rand.Rand

	voiceChannelID  string
	notifyChannelID string
	guildSettings   settings.GuildSettings

	// engineUp latches node availability. While false, transport calls
	// fail fast and queue mutations keep working.
	engineUp bool

	nowPlaying *nowPlaying
	idle       *idleTimer
	messenger  Messenger

	sleepCancel func()
	sleepUntil  time.Time
	graceCancel func()
	closed      bool
}

// New creates a session for a guild. The session starts disconnected; the
// first Connect binds it to a voice channel.
func New(guildID string, cfg Config, eng engine.Engine, messenger Messenger, roster VoiceRoster, resolver *settings.Resolver) *Session {
	s := &Session{
		guildID:    guildID,
		config:     cfg,
		engine:     eng,
		resolver:   resolver,
		roster:     roster,
		messenger:  messenger,
		queue:      queue.New(),
		state:      StateIdle,
		repeat:     RepeatOff,
		shuffle:    queue.ShuffleOff,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		engineUp:   true,
		nowPlaying: newNowPlaying(messenger),
	}
	s.idle = newIdleTimer(cfg.IdleStages, s.deleteWarning)
	s.volume = settings.DefaultVolume
	return s
}

func (s *Session) GuildID() string {
	return s.guildID
}

// Connect binds the session to a voice channel and resolves the text channel
// for status messages. fallbackTextChannelID is where the triggering command
// came from; it is used when no channel is configured or auto-detected.
func (s *Session) Connect(ctx context.Context, voiceChannelID, fallbackTextChannelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.engineUp {
		return engine.ErrEngineUnavailable
	}
	if err := s.engine.Connect(ctx, s.guildID, voiceChannelID); err != nil {
		return errors.Wrap(err, "failed to join voice channel")
	}

	s.voiceChannelID = voiceChannelID
	s.guildSettings = s.resolver.Get(ctx, s.guildID)
	s.notifyChannelID = s.resolver.NotificationChannel(ctx, s.guildID, fallbackTextChannelID)

	if s.current == nil {
		s.volume = s.guildSettings.DefaultVolume
		if err := s.engine.SetVolume(ctx, s.guildID, s.volume); err != nil {
			zlog.Warn().Msgf("failed to apply default volume: guild_id=%s err=%v", s.guildID, err)
		}
	}

	zlog.Info().Msgf("session connected: guild_id=%s voice_channel=%s", s.guildID, voiceChannelID)
	s.maybeStartIdleLocked()
	return nil
}

// Enqueue adds resolved tracks to the queue, respecting the guild's queue
// size limit, and starts playback when the session is idle and connected.
func (s *Session) Enqueue(ctx context.Context, tracks []track.Track, top bool) (EnqueueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tracks) == 0 {
		return EnqueueResult{}, ErrNoTracks
	}

	max := s.guildSettings.MaxQueueSize
	if max <= 0 {
		max = settings.DefaultMaxQueueSize
	}

	var res EnqueueResult
	room := max - s.queue.Len()
	if room < 0 {
		room = 0
	}
	if len(tracks) > room {
		res.Truncated = len(tracks) - room
		tracks = tracks[:room]
	}

	if len(tracks) > 0 {
		if top {
			for i := len(tracks) - 1; i >= 0; i-- {
				s.queue.InsertFront(tracks[i])
			}
		} else if err := s.queue.Add(tracks...); err != nil {
			return res, err
		}
		res.Added = len(tracks)
	}

	if s.state == StateIdle && s.voiceChannelID != "" && res.Added > 0 {
		if !s.engineUp {
			return res, engine.ErrEngineUnavailable
		}
		if err := s.playNextLocked(ctx); err != nil {
			return res, err
		}
		res.Started = s.current
	}
	return res, nil
}

// Pause pauses the current track. Pausing an already paused track is a
// no-op.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoCurrentTrack
	}
	if s.state == StatePaused {
		return nil
	}
	if !s.engineUp {
		return engine.ErrEngineUnavailable
	}
	if err := s.engine.Pause(ctx, s.guildID, true); err != nil {
		return errors.Wrap(err, "failed to pause")
	}
	s.state = StatePaused
	return nil
}

// Resume resumes a paused track. Resuming while already playing is a no-op.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoCurrentTrack
	}
	if s.state == StatePlaying {
		return nil
	}
	if !s.engineUp {
		return engine.ErrEngineUnavailable
	}
	if err := s.engine.Pause(ctx, s.guildID, false); err != nil {
		return errors.Wrap(err, "failed to resume")
	}
	s.state = StatePlaying
	return nil
}

// Stop ends playback, clears the queue, and tears down the playback
// connection. It returns the number of queued tracks discarded.
func (s *Session) Stop(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := s.queue.Clear()
	if s.voiceChannelID != "" && !s.engineUp {
		return cleared, engine.ErrEngineUnavailable
	}
	if err := s.disconnectLocked(ctx); err != nil {
		return cleared, err
	}
	return cleared, nil
}

// Skip discards the current track plus up to n-1 queued tracks and starts
// whatever comes next. Repeat modes do not apply to skips. It returns the
// number of tracks actually discarded, which may be fewer than requested
// when the queue runs short.
func (s *Session) Skip(ctx context.Context, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return 0, ErrNoCurrentTrack
	}
	if !s.engineUp {
		return 0, engine.ErrEngineUnavailable
	}
	if n < 1 {
		n = 1
	}

	removed := 1 // the current track
	for i := 1; i < n; i++ {
		if _, ok := s.queue.PopFront(); !ok {
			break
		}
		removed++
	}

	if err := s.playNextLocked(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// Seek jumps to the given position in the current track. Positions past the
// end of a track with known duration are rejected.
func (s *Session) Seek(ctx context.Context, pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoCurrentTrack
	}
	if !s.engineUp {
		return engine.ErrEngineUnavailable
	}
	if pos < 0 {
		pos = 0
	}
	if s.current.Duration > 0 && pos > s.current.Duration {
		return errors.Wrapf(ErrSeekOutOfRange, "position %s, track length %s", pos, s.current.Duration)
	}
	return errors.Wrap(s.engine.Seek(ctx, s.guildID, pos), "failed to seek")
}

// Rewind seeks backwards by the given amount, clamped at the track start.
// A non-positive amount restarts the track.
func (s *Session) Rewind(ctx context.Context, by time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoCurrentTrack
	}
	if !s.engineUp {
		return engine.ErrEngineUnavailable
	}
	pos := time.Duration(0)
	if by > 0 {
		pos = s.engine.Position(s.guildID) - by
		if pos < 0 {
			pos = 0
		}
	}
	return errors.Wrap(s.engine.Seek(ctx, s.guildID, pos), "failed to rewind")
}

// SetVolume applies a 0-100 volume. Invalid values leave the session
// untouched.
func (s *Session) SetVolume(ctx context.Context, volume int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if volume < 0 || volume > 100 {
		return errors.Wrapf(ErrInvalidVolume, "got %d", volume)
	}
	if !s.engineUp {
		return engine.ErrEngineUnavailable
	}
	if err := s.engine.SetVolume(ctx, s.guildID, volume); err != nil {
		return errors.Wrap(err, "failed to set volume")
	}
	s.volume = volume
	return nil
}

// SetRepeat sets the repeat mode applied on natural track completion.
func (s *Session) SetRepeat(mode RepeatMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeat = mode
}

// SetShuffle stores the shuffle mode and reorders the current queue with it.
func (s *Session) SetShuffle(mode queue.ShuffleMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuffle = mode
	s.queue.Shuffle(mode, s.rng)
}

// Remove removes the queued track at the given 1-based position.
func (s *Session) Remove(pos int) (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.RemoveAt(pos)
}

// Move relocates a queued track between 1-based positions.
func (s *Session) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Move(from, to)
}

// RemoveDuplicates drops queued tracks that repeat an earlier track's
// identity and returns the removed tracks.
func (s *Session) RemoveDuplicates() []track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.RemoveDuplicates()
}

// ClearQueue empties the queue without touching the current track.
func (s *Session) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Clear()
}

// SetSleepTimer schedules a stop-and-disconnect after the given number of
// minutes, replacing any earlier timer. The sleep timer is an explicit user
// request, so it fires even in always-on mode.
func (s *Session) SetSleepTimer(minutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if minutes < minSleepMinutes || minutes > maxSleepMinutes {
		return errors.Wrapf(ErrInvalidSleepDuration, "got %d", minutes)
	}
	if s.sleepCancel != nil {
		s.sleepCancel()
	}
	d := time.Duration(minutes) * time.Minute
	s.sleepUntil = time.Now().Add(d)
	s.sleepCancel = startTimer(d, s.onSleepTimer)
	zlog.Info().Msgf("sleep timer set: guild_id=%s minutes=%d", s.guildID, minutes)
	return nil
}

// CancelSleepTimer cancels a pending sleep timer, reporting whether one
// was active.
func (s *Session) CancelSleepTimer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sleepCancel == nil {
		return false
	}
	s.sleepCancel()
	s.sleepCancel = nil
	s.sleepUntil = time.Time{}
	return true
}

// ApplySettings replaces the session's settings snapshot after a
// configuration change. Enabling always-on cancels a running countdown;
// disabling it re-evaluates idleness.
func (s *Session) ApplySettings(gs settings.GuildSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guildSettings = gs
	if gs.NowPlayingChannelID != "" {
		s.notifyChannelID = gs.NowPlayingChannelID
	}
	if gs.AlwaysOn {
		s.idle.Cancel()
		s.cancelGraceLocked()
	} else {
		s.maybeStartIdleLocked()
	}
}

// OnVoiceOccupancy is invoked when listeners join or leave the bot's voice
// channel. An empty channel starts the countdown; any returning listener
// cancels it.
func (s *Session) OnVoiceOccupancy(listeners int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.voiceChannelID == "" {
		return
	}
	if listeners == 0 {
		s.maybeStartIdleLocked()
		return
	}
	s.idle.Cancel()
}

// HandleEvent processes an engine lifecycle event for this guild.
func (s *Session) HandleEvent(e engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Type {
	case engine.EventTrackStarted:
		s.onTrackStartedLocked(e)
	case engine.EventTrackEnded:
		s.onTrackEndedLocked(e)
	case engine.EventQueueExhausted:
		s.onQueueDrainedLocked()
	case engine.EventEngineError:
		zlog.Error().Msgf("engine error: guild_id=%s err=%v", s.guildID, e.Err)
		// Drop the broken track and move on; repeat modes do not
		// resurrect a track that failed.
		s.advanceLocked(false)
	case engine.EventNodeConnected:
		s.engineUp = true
		zlog.Info().Msgf("engine node up: guild_id=%s node=%s", s.guildID, e.NodeID)
	case engine.EventNodeDisconnected:
		s.engineUp = false
		zlog.Warn().Msgf("engine node down: guild_id=%s node=%s", s.guildID, e.NodeID)
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Disconnect tears down the voice connection and resets transport state.
// The queue survives so a later Connect can pick up where it left off.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectLocked(ctx)
}

// Close permanently shuts the session down.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	_ = s.disconnectLocked(ctx)
	s.queue.Clear()
}

// --- internals, all called with s.mu held ---

func (s *Session) playNextLocked(ctx context.Context) error {
	next, ok := s.queue.PopFront()
	if !ok {
		s.current = nil
		s.state = StateIdle
		s.onQueueDrainedLocked()
		return nil
	}
	if err := s.engine.Play(ctx, s.guildID, next); err != nil {
		s.current = nil
		s.state = StateIdle
		return errors.Wrap(err, "failed to start track")
	}
	s.current = &next
	s.state = StatePlaying
	s.cancelGraceLocked()
	return nil
}

func (s *Session) onTrackStartedLocked(e engine.Event) {
	if e.Track != nil && (s.current == nil || !track.SameIdentity(*s.current, *e.Track)) {
		// The engine is authoritative about what actually started.
		t := *e.Track
		s.current = &t
	}
	if s.current == nil {
		return
	}
	s.state = StatePlaying
	s.cancelGraceLocked()

	if s.notifyChannelID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		s.nowPlaying.Publish(ctx, s.notifyChannelID, *s.current, s.snapshotLocked())
	}
}

func (s *Session) onTrackEndedLocked(e engine.Event) {
	if s.current == nil {
		return
	}
	// A stop or skip already replaced the current track; the ended event
	// for the old one is stale.
	if e.Track != nil && !track.SameIdentity(*s.current, *e.Track) {
		return
	}
	s.advanceLocked(true)
}

// advanceLocked moves to the next track after the current one finished.
// natural controls whether repeat modes apply.
func (s *Session) advanceLocked(natural bool) {
	finished := s.current
	s.current = nil

	if natural && finished != nil {
		switch s.repeat {
		case RepeatTrack:
			s.queue.InsertFront(*finished)
		case RepeatQueue:
			_ = s.queue.Add(*finished)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if !s.engineUp {
		s.state = StateIdle
		return
	}
	if err := s.playNextLocked(ctx); err != nil {
		zlog.Error().Msgf("failed to advance queue: guild_id=%s err=%v", s.guildID, err)
	}
}

// onQueueDrainedLocked runs when nothing is left to play. Auto-leave gets a
// short grace period; otherwise the session stays put unless the voice
// channel is also empty.
func (s *Session) onQueueDrainedLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	s.nowPlaying.Clear(ctx)
	cancel()

	if s.guildSettings.AlwaysOn {
		return
	}
	if s.guildSettings.AutoLeave && s.voiceChannelID != "" {
		s.scheduleGraceLocked()
		return
	}
	s.maybeStartIdleLocked()
}

func (s *Session) scheduleGraceLocked() {
	if s.graceCancel != nil {
		return
	}
	s.graceCancel = startTimer(s.config.QueueEndGrace, s.onQueueEndGrace)
}

func (s *Session) cancelGraceLocked() {
	if s.graceCancel != nil {
		s.graceCancel()
		s.graceCancel = nil
	}
}

func (s *Session) onQueueEndGrace() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graceCancel = nil
	if s.state == StatePlaying || s.guildSettings.AlwaysOn {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	zlog.Info().Msgf("queue ended, leaving voice channel: guild_id=%s", s.guildID)
	if err := s.disconnectLocked(ctx); err != nil {
		zlog.Warn().Msgf("auto-leave failed: guild_id=%s err=%v", s.guildID, err)
	}
}

func (s *Session) onSleepTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sleepCancel = nil
	s.sleepUntil = time.Time{}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	zlog.Info().Msgf("sleep timer fired: guild_id=%s", s.guildID)
	s.queue.Clear()
	if err := s.disconnectLocked(ctx); err != nil {
		zlog.Warn().Msgf("sleep timer disconnect failed: guild_id=%s err=%v", s.guildID, err)
	}
}

// maybeStartIdleLocked starts the countdown when the voice channel has no
// listeners left. Idempotent while a countdown runs.
func (s *Session) maybeStartIdleLocked() {
	if !s.idleConditionLocked() {
		return
	}
	s.idle.Schedule(idleHooks{
		stillIdle:  s.idleCondition,
		warn:       s.postIdleWarning,
		disconnect: s.idleDisconnect,
	})
}

func (s *Session) idleCondition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleConditionLocked()
}

// idleConditionLocked holds exactly when the countdown may run: connected,
// not always-on, and nobody but the bot left in the voice channel.
func (s *Session) idleConditionLocked() bool {
	if s.guildSettings.AlwaysOn || s.voiceChannelID == "" || s.closed {
		return false
	}
	return s.roster != nil && s.roster.ListenerCount(s.guildID, s.voiceChannelID) == 0
}

func (s *Session) postIdleWarning(ctx context.Context, remaining time.Duration) (messageRef, bool) {
	s.mu.Lock()
	channelID := s.notifyChannelID
	s.mu.Unlock()

	if channelID == "" {
		return messageRef{}, false
	}
	id, err := s.messenger.SendIdleWarning(ctx, channelID, remaining)
	if err != nil {
		zlog.Warn().Msgf("failed to post idle warning: guild_id=%s err=%v", s.guildID, err)
		return messageRef{}, false
	}
	return messageRef{channelID: channelID, messageID: id}, true
}

func (s *Session) idleDisconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.idleConditionLocked() {
		return
	}
	zlog.Info().Msgf("idle for too long, leaving voice channel: guild_id=%s", s.guildID)
	if err := s.disconnectLocked(ctx); err != nil {
		zlog.Warn().Msgf("idle disconnect failed: guild_id=%s err=%v", s.guildID, err)
	}
}

func (s *Session) deleteWarning(ref messageRef) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.messenger.DeleteMessage(ctx, ref.channelID, ref.messageID); err != nil {
		zlog.Debug().Msgf("failed to delete idle warning: channel_id=%s err=%v", ref.channelID, err)
	}
}

func (s *Session) disconnectLocked(ctx context.Context) error {
	s.idle.Cancel()
	s.cancelGraceLocked()
	if s.sleepCancel != nil {
		s.sleepCancel()
		s.sleepCancel = nil
		s.sleepUntil = time.Time{}
	}
	s.nowPlaying.Clear(ctx)

	s.current = nil
	s.state = StateIdle

	if s.voiceChannelID == "" {
		return nil
	}
	s.voiceChannelID = ""
	if err := s.engine.Destroy(ctx, s.guildID); err != nil {
		return errors.Wrap(err, "failed to destroy player")
	}
	return nil
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		GuildID:        s.guildID,
		State:          s.state,
		StateName:      s.state.String(),
		Volume:         s.volume,
		Repeat:         s.repeat,
		Shuffle:        s.shuffle,
		Queue:          s.queue.Tracks(),
		QueueLength:    s.queue.Len(),
		VoiceChannelID: s.voiceChannelID,
		TextChannelID:  s.notifyChannelID,
		EngineUp:       s.engineUp,
		AlwaysOn:       s.guildSettings.AlwaysOn,
	}
	if s.current != nil {
		t := *s.current
		snap.Current = &t
		snap.Position = s.engine.Position(s.guildID)
	}
	if !s.sleepUntil.IsZero() {
		u := s.sleepUntil
		snap.SleepUntil = &u
	}
	return snap
}

// startTimer runs fn after d and returns a cancel function.
func startTimer(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
