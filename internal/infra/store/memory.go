// Package store provides the persistence backends for guild settings and
// saved playlists: MySQL as the primary durable store, Redis as the settings
// fallback, and in-process maps for deployments that run without either.
package store

import (
	"context"
	"sync"

	"github.com/groovebox-bot/groovebox/internal/app/settings"
)

// Memory is a process-local settings store. It backs tests and acts as the
// fallback store when no Redis address is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string]settings.GuildSettings
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]settings.GuildSettings)}
}

func (m *Memory) Get(_ context.Context, guildID string) (*settings.GuildSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.data[guildID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) Put(_ context.Context, s settings.GuildSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.GuildID] = s
	return nil
}
