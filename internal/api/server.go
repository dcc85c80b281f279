package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/app/session"
	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/command"
	"github.com/groovebox-bot/groovebox/internal/domain/queue"
	"github.com/groovebox-bot/groovebox/internal/engine"
)

const snapshotInterval = 2 * time.Second

// Server serves the dashboard REST API and websocket feed.
type Server struct {
	registry *session.Registry
	handler  *command.Handler
	resolver *settings.Resolver
	hub      *Hub

	router   *mux.Router
	http     *http.Server
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer builds the server; Start begins listening.
func NewServer(addr string, registry *session.Registry, handler *command.Handler, resolver *settings.Resolver) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry: registry,
		handler:  handler,
		resolver: resolver,
		hub:      NewHub(),
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.routes()
	s.http = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/guilds", s.handleListGuilds).Methods(http.MethodGet)
	s.router.HandleFunc("/api/guilds/{guildID}", s.handleGuildSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/api/guilds/{guildID}/player", s.handlePlayerAction).Methods(http.MethodPost)
	s.router.HandleFunc("/api/guilds/{guildID}/queue", s.handleQueueAction).Methods(http.MethodPost)
	s.router.HandleFunc("/api/guilds/{guildID}/queue", s.handleClearQueue).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/guilds/{guildID}/settings", s.handleGetSettings).Methods(http.MethodGet)
	s.router.HandleFunc("/api/guilds/{guildID}/settings", s.handlePutSettings).Methods(http.MethodPut)
	s.router.HandleFunc("/api/ws", s.handleWebsocket).Methods(http.MethodGet)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start listens until Shutdown. It blocks.
func (s *Server) Start() error {
	go s.snapshotLoop()
	zlog.Info().Msgf("api server listening: addr=%s", s.http.Addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server failed")
	}
	return nil
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

// snapshotLoop pushes session snapshots to websocket subscribers while any
// are connected.
func (s *Server) snapshotLoop() {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.hub.SubscriberCount() == 0 {
				continue
			}
			s.hub.Broadcast("snapshot", s.registry.Snapshots())
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListGuilds(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Snapshots())
}

func (s *Server) handleGuildSnapshot(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]
	sess, ok := s.registry.Get(guildID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no session for guild")
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

type playerActionRequest struct {
	Action  string `json:"action"`
	Count   int    `json:"count,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	Level   int    `json:"level,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

func (s *Server) handlePlayerAction(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]

	var req playerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv := command.Invocation{GuildID: guildID}
	ctx := r.Context()

	var err error
	switch req.Action {
	case "pause":
		err = s.handler.Pause(ctx, inv)
	case "resume":
		err = s.handler.Resume(ctx, inv)
	case "skip":
		count := req.Count
		if count < 1 {
			count = 1
		}
		_, err = s.handler.Skip(ctx, inv, count)
	case "stop":
		_, err = s.handler.Stop(ctx, inv)
	case "seek":
		err = s.handler.Seek(ctx, inv, time.Duration(req.Seconds)*time.Second)
	case "volume":
		err = s.handler.Volume(ctx, inv, req.Level)
	case "shuffle":
		err = s.handler.Shuffle(inv, req.Mode)
	case "repeat":
		err = s.handler.Repeat(inv, req.Mode)
	default:
		s.writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	if err != nil {
		s.writeError(w, statusFor(err), command.UserMessage(err))
		return
	}
	s.writeSnapshotOrOK(w, guildID)
}

type queueActionRequest struct {
	Action   string `json:"action"` // remove, move, dedupe
	Position int    `json:"position,omitempty"`
	From     int    `json:"from,omitempty"`
	To       int    `json:"to,omitempty"`
}

func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]

	var req queueActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv := command.Invocation{GuildID: guildID}

	var err error
	switch req.Action {
	case "remove":
		_, err = s.handler.Remove(inv, req.Position)
	case "move":
		err = s.handler.Move(inv, req.From, req.To)
	case "dedupe":
		_, err = s.handler.RemoveDuplicates(inv)
	default:
		s.writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	if err != nil {
		s.writeError(w, statusFor(err), command.UserMessage(err))
		return
	}
	s.writeSnapshotOrOK(w, guildID)
}

// writeSnapshotOrOK responds with the guild snapshot, or a bare ok when the
// session was destroyed between the action and the lookup.
func (s *Server) writeSnapshotOrOK(w http.ResponseWriter, guildID string) {
	sess, ok := s.registry.Get(guildID)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]
	cleared, err := s.handler.ClearQueue(command.Invocation{GuildID: guildID})
	if err != nil {
		s.writeError(w, statusFor(err), command.UserMessage(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]
	s.writeJSON(w, http.StatusOK, s.resolver.Get(r.Context(), guildID))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]

	var gs settings.GuildSettings
	if err := json.NewDecoder(r.Body).Decode(&gs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	gs.GuildID = guildID

	if gs.DefaultVolume < 0 || gs.DefaultVolume > 100 {
		s.writeError(w, http.StatusBadRequest, "defaultVolume must be between 0 and 100")
		return
	}
	if gs.MaxQueueSize < 1 {
		s.writeError(w, http.StatusBadRequest, "maxQueueSize must be positive")
		return
	}

	err := s.resolver.Save(r.Context(), gs)
	if err != nil && !errors.Is(err, settings.ErrPrimaryUnavailable) {
		s.writeError(w, http.StatusServiceUnavailable, "settings persistence unavailable")
		return
	}
	if sess, ok := s.registry.Get(guildID); ok {
		sess.ApplySettings(gs)
	}
	s.writeJSON(w, http.StatusOK, gs)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("websocket upgrade failed: err=%v", err)
		return
	}

	stream := &wsStream{conn: conn}
	id := s.hub.Subscribe(stream)
	zlog.Debug().Msgf("dashboard subscriber connected: id=%s", id)

	// Prime the client so it does not wait for the next tick.
	_ = stream.Send(envelope{Type: "snapshot", Data: s.registry.Snapshots()})

	// Reads are discarded; the read loop only detects the close.
	go func() {
		defer func() {
			s.hub.Unsubscribe(id)
			_ = conn.Close()
			zlog.Debug().Msgf("dashboard subscriber disconnected: id=%s", id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNoCurrentTrack):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidVolume),
		errors.Is(err, session.ErrSeekOutOfRange),
		errors.Is(err, command.ErrUnknownMode),
		errors.Is(err, queue.ErrInvalidPosition),
		errors.Is(err, queue.ErrEmptyQueue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Msgf("failed to encode response: err=%v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
