package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
	"github.com/groovebox-bot/groovebox/internal/engine"
)

// Connect asks the Discord gateway to join the voice channel. The node
// learns the voice credentials through HandleVoiceUpdate once Discord
// answers.
func (n *Node) Connect(_ context.Context, guildID, voiceChannelID string) error {
	if !n.isConnected() {
		return engine.ErrEngineUnavailable
	}
	if err := n.voice.JoinVoiceChannel(guildID, voiceChannelID); err != nil {
		return errors.Wrap(err, "failed to join voice channel")
	}
	return nil
}

// Play starts a track on the guild's player.
func (n *Node) Play(ctx context.Context, guildID string, t track.Track) error {
	if t.Encoded == "" {
		return errors.New("track has no encoded payload")
	}
	encoded := t.Encoded
	return n.updatePlayer(ctx, guildID, playerUpdateRequest{
		Track: &trackUpdate{Encoded: &encoded},
	})
}

// StopTrack stops the current track without touching the voice connection.
func (n *Node) StopTrack(ctx context.Context, guildID string) error {
	return n.updatePlayer(ctx, guildID, playerUpdateRequest{
		Track: &trackUpdate{Encoded: nil, stop: true},
	})
}

// Pause pauses or resumes the guild's player.
func (n *Node) Pause(ctx context.Context, guildID string, paused bool) error {
	if err := n.updatePlayer(ctx, guildID, playerUpdateRequest{Paused: &paused}); err != nil {
		return err
	}
	p := n.player(guildID)
	p.mu.Lock()
	if paused {
		// Freeze the projected position at pause time.
		p.position = n.projectPosition(p)
	}
	p.positionAt = time.Now()
	p.paused = paused
	p.mu.Unlock()
	return nil
}

// Seek jumps to the given position in the current track.
func (n *Node) Seek(ctx context.Context, guildID string, pos time.Duration) error {
	ms := pos.Milliseconds()
	if err := n.updatePlayer(ctx, guildID, playerUpdateRequest{Position: &ms}); err != nil {
		return err
	}
	p := n.player(guildID)
	p.mu.Lock()
	p.position = pos
	p.positionAt = time.Now()
	p.mu.Unlock()
	return nil
}

// Position projects the current playback position from the last player
// update frame.
func (n *Node) Position(guildID string) time.Duration {
	p := n.player(guildID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return n.projectPosition(p)
}

func (n *Node) projectPosition(p *playerState) time.Duration {
	if p.positionAt.IsZero() || p.paused {
		return p.position
	}
	return p.position + time.Since(p.positionAt)
}

// SetVolume applies a 0-100 volume to the guild's player.
func (n *Node) SetVolume(ctx context.Context, guildID string, volume int) error {
	return n.updatePlayer(ctx, guildID, playerUpdateRequest{Volume: &volume})
}

// Destroy tears down the guild's player and leaves the voice channel.
func (n *Node) Destroy(ctx context.Context, guildID string) error {
	defer n.dropPlayer(guildID)

	if err := n.voice.LeaveVoiceChannel(guildID); err != nil {
		return errors.Wrap(err, "failed to leave voice channel")
	}
	if !n.isConnected() {
		return nil
	}
	req, err := n.newRequest(ctx, http.MethodDelete, n.playerURL(guildID), nil)
	if err != nil {
		return err
	}
	return n.do(req, nil)
}

// Resolve turns a search query or URL into playable tracks. Bare text is
// searched on YouTube.
func (n *Node) Resolve(ctx context.Context, query string, requester track.Requester) ([]track.Track, error) {
	if !n.isConnected() {
		return nil, engine.ErrEngineUnavailable
	}

	identifier := query
	if !strings.HasPrefix(query, "http://") && !strings.HasPrefix(query, "https://") {
		identifier = "ytsearch:" + query
	}

	u := fmt.Sprintf("%s/v4/loadtracks?identifier=%s", n.restBase(), url.QueryEscape(identifier))
	req, err := n.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var result loadResult
	if err := n.do(req, &result); err != nil {
		return nil, err
	}

	var raw []lavalinkTrack
	switch result.LoadType {
	case loadTypeTrack:
		var t lavalinkTrack
		if err := json.Unmarshal(result.Data, &t); err != nil {
			return nil, errors.Wrap(err, "failed to decode track result")
		}
		raw = []lavalinkTrack{t}
	case loadTypePlaylist:
		var pl playlistResult
		if err := json.Unmarshal(result.Data, &pl); err != nil {
			return nil, errors.Wrap(err, "failed to decode playlist result")
		}
		raw = pl.Tracks
	case loadTypeSearch:
		var ts []lavalinkTrack
		if err := json.Unmarshal(result.Data, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to decode search result")
		}
		// A search answers the user's single request; only the best hit
		// is taken.
		if len(ts) > 0 {
			raw = ts[:1]
		}
	case loadTypeEmpty:
		return nil, nil
	case loadTypeError:
		var le lavalinkError
		_ = json.Unmarshal(result.Data, &le)
		return nil, errors.Newf("failed to load tracks: %s", le.Message)
	default:
		return nil, errors.Newf("unknown load type %q", result.LoadType)
	}

	tracks := make([]track.Track, 0, len(raw))
	for _, lt := range raw {
		t := lt.toTrack()
		t.Requester = requester
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (n *Node) isConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *Node) currentSessionID() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connected || n.sessionID == "" {
		return "", engine.ErrEngineUnavailable
	}
	return n.sessionID, nil
}

func (n *Node) updatePlayer(ctx context.Context, guildID string, upd playerUpdateRequest) error {
	u, err := n.sessionPlayerURL(guildID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(upd)
	if err != nil {
		return errors.Wrap(err, "failed to encode player update")
	}
	req, err := n.newRequest(ctx, http.MethodPatch, u+"?noReplace=false", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, nil)
}

func (n *Node) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", n.cfg.Password)
	return req, nil
}

func (n *Node) do(req *http.Request, out any) error {
	resp, err := n.http.Do(req)
	if err != nil {
		return errors.Wrapf(engine.ErrEngineUnavailable, "node request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Newf("node returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode node response")
	}
	return nil
}

func (n *Node) scheme() (httpScheme, wsScheme string) {
	if n.cfg.Secure {
		return "https", "wss"
	}
	return "http", "ws"
}

func (n *Node) restBase() string {
	h, _ := n.scheme()
	return fmt.Sprintf("%s://%s", h, n.cfg.Address)
}

func (n *Node) wsURL() string {
	_, w := n.scheme()
	return fmt.Sprintf("%s://%s/v4/websocket", w, n.cfg.Address)
}

func (n *Node) playerURL(guildID string) string {
	n.mu.Lock()
	sessionID := n.sessionID
	n.mu.Unlock()
	return fmt.Sprintf("%s/v4/sessions/%s/players/%s", n.restBase(), sessionID, guildID)
}

func (n *Node) sessionPlayerURL(guildID string) (string, error) {
	sessionID, err := n.currentSessionID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/v4/sessions/%s/players/%s", n.restBase(), sessionID, guildID), nil
}
