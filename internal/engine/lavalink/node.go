// Package lavalink implements the audio engine against a Lavalink v4 node.
// Control traffic goes over the REST API; track lifecycle events arrive on
// the node websocket and are translated onto the engine event channel.
package lavalink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/engine"
)

// Config holds the node connection parameters.
type Config struct {
	Address  string // host:port of the Lavalink node
	Password string
	UserID   string // bot user id, sent on the websocket handshake
	NodeID   string
	Secure   bool // use https/wss
}

// VoiceGateway joins and leaves Discord voice channels on behalf of the
// engine. Voice credentials flow back through HandleVoiceUpdate.
type VoiceGateway interface {
	JoinVoiceChannel(guildID, channelID string) error
	LeaveVoiceChannel(guildID string) error
}

const (
	reconnectDelay  = 5 * time.Second
	requestTimeout  = 10 * time.Second
	eventBufferSize = 64
	clientName      = "groovebox/1.0"
)

type playerState struct {
	mu sync.Mutex

	// Voice credentials from the Discord gateway, forwarded to the node.
	voiceToken     string
	voiceEndpoint  string
	voiceSessionID string

	// Position tracking from playerUpdate frames.
	position   time.Duration
	positionAt time.Time
	paused     bool
}

// Node is a client for a single Lavalink node. It implements engine.Engine.
type Node struct {
	cfg   Config
	http  *http.Client
	voice VoiceGateway

	mu        sync.Mutex
	sessionID string
	connected bool
	players   map[string]*playerState

	events chan engine.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNode creates the client. Call Start to open the websocket.
func NewNode(cfg Config, voice VoiceGateway) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:     cfg,
		http:    &http.Client{Timeout: requestTimeout},
		voice:   voice,
		players: make(map[string]*playerState),
		events:  make(chan engine.Event, eventBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Events returns the engine event stream.
func (n *Node) Events() <-chan engine.Event {
	return n.events
}

// Start opens the node websocket and keeps it alive until Stop.
func (n *Node) Start() {
	go n.connectLoop()
}

// Stop closes the websocket and the event channel.
func (n *Node) Stop() {
	n.cancel()
	<-n.done
	close(n.events)
}

func (n *Node) connectLoop() {
	defer close(n.done)

	for {
		if n.ctx.Err() != nil {
			return
		}
		if err := n.runOnce(); err != nil {
			zlog.Warn().Msgf("lavalink websocket lost: node=%s err=%v", n.cfg.NodeID, err)
		}

		n.setConnected(false)
		n.emit(engine.Event{Type: engine.EventNodeDisconnected, NodeID: n.cfg.NodeID})

		select {
		case <-n.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (n *Node) runOnce() error {
	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)
	header.Set("User-Id", n.cfg.UserID)
	header.Set("Client-Name", clientName)

	conn, _, err := websocket.DefaultDialer.DialContext(n.ctx, n.wsURL(), header)
	if err != nil {
		return errors.Wrap(err, "failed to dial node")
	}
	defer conn.Close()

	go func() {
		<-n.ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "websocket read failed")
		}
		n.handleMessage(raw)
	}
}

// handleMessage translates one websocket frame into engine events.
func (n *Node) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		zlog.Warn().Msgf("lavalink sent unparseable frame: err=%v", err)
		return
	}

	switch msg.Op {
	case opReady:
		n.mu.Lock()
		n.sessionID = msg.SessionID
		n.connected = true
		n.mu.Unlock()
		zlog.Info().Msgf("lavalink node ready: node=%s session=%s resumed=%v",
			n.cfg.NodeID, msg.SessionID, msg.Resumed)
		n.emit(engine.Event{Type: engine.EventNodeConnected, NodeID: n.cfg.NodeID})

	case opPlayerUpdate:
		p := n.player(msg.GuildID)
		p.mu.Lock()
		p.position = time.Duration(msg.State.Position) * time.Millisecond
		p.positionAt = time.Now()
		p.mu.Unlock()

	case opEvent:
		n.handleEvent(msg)

	case opStats:
		// Load stats are not used; single-node deployments have nothing
		// to balance.
	}
}

func (n *Node) handleEvent(msg wsMessage) {
	switch msg.Type {
	case eventTrackStart:
		t := msg.Track.toTrack()
		n.emit(engine.Event{Type: engine.EventTrackStarted, GuildID: msg.GuildID, Track: &t})

	case eventTrackEnd:
		// Replaced/stopped tracks are driven by our own calls; emitting
		// them again would double-advance the queue.
		if msg.Reason == endReasonReplaced || msg.Reason == endReasonStopped || msg.Reason == endReasonCleanup {
			return
		}
		t := msg.Track.toTrack()
		// A load failure is not natural completion; repeat modes must not
		// replay a track the node cannot load.
		if msg.Reason == endReasonLoadFailed {
			n.emit(engine.Event{
				Type:    engine.EventEngineError,
				GuildID: msg.GuildID,
				Track:   &t,
				Err:     errors.Newf("track failed to load: %s", t.Title),
			})
			return
		}
		n.emit(engine.Event{Type: engine.EventTrackEnded, GuildID: msg.GuildID, Track: &t})

	case eventTrackException:
		t := msg.Track.toTrack()
		n.emit(engine.Event{
			Type:    engine.EventEngineError,
			GuildID: msg.GuildID,
			Track:   &t,
			Err:     errors.Newf("track exception: %s", msg.Exception.Message),
		})

	case eventTrackStuck:
		t := msg.Track.toTrack()
		n.emit(engine.Event{
			Type:    engine.EventEngineError,
			GuildID: msg.GuildID,
			Track:   &t,
			Err:     errors.Newf("track stuck for %dms", msg.ThresholdMs),
		})

	case eventWebSocketClosed:
		zlog.Warn().Msgf("discord voice websocket closed: guild_id=%s code=%d reason=%s",
			msg.GuildID, msg.Code, msg.Reason)
	}
}

// HandleVoiceUpdate receives Discord voice credentials for a guild and
// forwards them to the node so it can open the voice connection.
func (n *Node) HandleVoiceUpdate(ctx context.Context, guildID, sessionID, token, endpoint string) error {
	p := n.player(guildID)
	p.mu.Lock()
	p.voiceSessionID = sessionID
	if token != "" {
		p.voiceToken = token
	}
	if endpoint != "" {
		p.voiceEndpoint = endpoint
	}
	token = p.voiceToken
	endpoint = p.voiceEndpoint
	sessionID = p.voiceSessionID
	p.mu.Unlock()

	// Both halves of the handshake must arrive before the node can connect.
	if token == "" || endpoint == "" || sessionID == "" {
		return nil
	}

	return n.updatePlayer(ctx, guildID, playerUpdateRequest{
		Voice: &voiceUpdate{Token: token, Endpoint: endpoint, SessionID: sessionID},
	})
}

func (n *Node) player(guildID string) *playerState {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.players[guildID]
	if !ok {
		p = &playerState{}
		n.players[guildID] = p
	}
	return p
}

func (n *Node) dropPlayer(guildID string) {
	n.mu.Lock()
	delete(n.players, guildID)
	n.mu.Unlock()
}

func (n *Node) setConnected(v bool) {
	n.mu.Lock()
	n.connected = v
	n.mu.Unlock()
}

func (n *Node) emit(e engine.Event) {
	select {
	case n.events <- e:
	case <-n.ctx.Done():
	default:
		zlog.Warn().Msgf("engine event dropped, channel full: type=%s guild_id=%s", e.Type, e.GuildID)
	}
}
