// Package api exposes the dashboard surface: a small REST API over the
// session registry and a websocket feed of session snapshots.
package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
)

// Stream receives broadcast payloads for one subscriber.
type Stream interface {
	Send(v any) error
}

// Hub fans broadcast payloads out to subscribers. Slow subscribers are
// dropped rather than allowed to stall the rest.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Stream

	seqMu sync.Mutex
	seq   uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]Stream)}
}

// Subscribe registers a stream and returns its subscription id.
func (h *Hub) Subscribe(s Stream) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.New().String()
	h.subs[id] = s
	return id
}

// Unsubscribe removes a subscription.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// envelope wraps every broadcast payload with a type and sequence number so
// clients can detect gaps.
type envelope struct {
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`
	Data     any    `json:"data"`
}

// Broadcast sends the payload to every subscriber in parallel. Subscribers
// that fail or block past the timeout are unsubscribed.
func (h *Hub) Broadcast(msgType string, data any) {
	h.seqMu.Lock()
	h.seq++
	env := envelope{Type: msgType, Sequence: h.seq, Data: data}
	h.seqMu.Unlock()

	h.mu.RLock()
	subs := make(map[string]Stream, len(h.subs))
	for id, s := range h.subs {
		subs[id] = s
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for id, s := range subs {
		wg.Add(1)
		go func(id string, s Stream) {
			defer wg.Done()

			done := make(chan error, 1)
			go func() { done <- s.Send(env) }()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("dropping subscriber: id=%s err=%v", id, err)
					h.Unsubscribe(id)
				}
			case <-time.After(500 * time.Millisecond):
				zlog.Debug().Msgf("dropping stalled subscriber: id=%s", id)
				h.Unsubscribe(id)
			}
		}(id, s)
	}
	wg.Wait()
}

// wsStream adapts a websocket connection to the Stream interface.
// Gorilla connections allow one concurrent writer, hence the mutex.
type wsStream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsStream) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}
