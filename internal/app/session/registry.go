package session

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/engine"
)

// Registry owns the per-guild sessions. Sessions are created on first use
// and live until destroyed or until shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	config    Config
	engine    engine.Engine
	messenger Messenger
	roster    VoiceRoster
	resolver  *settings.Resolver

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates the registry. Call Run to start dispatching engine
// events.
func NewRegistry(cfg Config, eng engine.Engine, messenger Messenger, roster VoiceRoster, resolver *settings.Resolver) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:  make(map[string]*Session),
		config:    cfg,
		engine:    eng,
		messenger: messenger,
		roster:    roster,
		resolver:  resolver,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// GetOrCreate returns the guild's session, creating it on first use.
func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[guildID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s = New(guildID, r.config, r.engine, r.messenger, r.roster, r.resolver)
	r.sessions[guildID] = s
	zlog.Debug().Msgf("session created: guild_id=%s", guildID)
	return s
}

// Get returns the guild's session without creating one.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Destroy shuts down and removes the guild's session.
func (r *Registry) Destroy(ctx context.Context, guildID string) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if ok {
		s.Close(ctx)
		zlog.Debug().Msgf("session destroyed: guild_id=%s", guildID)
	}
}

// Snapshots returns a snapshot of every live session.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// Run consumes the engine event stream and dispatches events to sessions.
// Guild events go to that guild's session; node events fan out to all.
// Blocks until Shutdown.
func (r *Registry) Run() {
	defer func() {
		if rec := recover(); rec != nil {
			zlog.Error().Msgf("event loop panicked: %v", rec)
			zlog.Info().Msg("restarting event loop")
			go r.Run()
			return
		}
		close(r.done)
	}()

	for {
		select {
		case <-r.ctx.Done():
			return
		case e, ok := <-r.engine.Events():
			if !ok {
				return
			}
			r.dispatch(e)
		}
	}
}

func (r *Registry) dispatch(e engine.Event) {
	zlog.Debug().Msgf("engine event: type=%s guild_id=%s", e.Type, e.GuildID)

	if e.GuildID != "" {
		if s, ok := r.Get(e.GuildID); ok {
			s.HandleEvent(e)
		}
		return
	}

	// Node-level event: every session needs to flip its availability latch.
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.HandleEvent(e)
	}
}

// Shutdown stops the event loop and closes every session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.cancel()
	<-r.done

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for guildID, s := range sessions {
		s.Close(ctx)
		zlog.Debug().Msgf("session closed on shutdown: guild_id=%s", guildID)
	}
}
