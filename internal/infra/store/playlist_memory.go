package store

import (
	"context"
	"sort"
	"sync"

	"github.com/groovebox-bot/groovebox/internal/app/playlist"
)

// PlaylistMemory is a process-local playlist store for deployments running
// without a database. It doubles as the test store.
type PlaylistMemory struct {
	mu   sync.RWMutex
	data map[string]map[string]playlist.Playlist // owner -> name -> playlist
}

func NewPlaylistMemory() *PlaylistMemory {
	return &PlaylistMemory{data: make(map[string]map[string]playlist.Playlist)}
}

func (m *PlaylistMemory) Get(_ context.Context, ownerID, name string) (playlist.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[ownerID][name]
	if !ok {
		return playlist.Playlist{}, playlist.ErrNotFound
	}
	return p, nil
}

func (m *PlaylistMemory) Put(_ context.Context, p playlist.Playlist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[p.OwnerID] == nil {
		m.data[p.OwnerID] = make(map[string]playlist.Playlist)
	}
	m.data[p.OwnerID][p.Name] = p
	return nil
}

func (m *PlaylistMemory) Delete(_ context.Context, ownerID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[ownerID][name]; !ok {
		return playlist.ErrNotFound
	}
	delete(m.data[ownerID], name)
	return nil
}

func (m *PlaylistMemory) List(_ context.Context, ownerID string) ([]playlist.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]playlist.Playlist, 0, len(m.data[ownerID]))
	for _, p := range m.data[ownerID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
