// Package playlist stores named track lists. A playlist belongs to an
// owner: a user id for personal playlists, or a guild id for playlists
// shared by the whole server.
package playlist

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

var (
	ErrNotFound    = errors.New("playlist not found")
	ErrInvalidName = errors.New("playlist name must be 1-64 characters")
)

const maxNameLength = 64

// Playlist is a named track list.
type Playlist struct {
	OwnerID   string        `json:"ownerId"`
	Name      string        `json:"name"`
	Tracks    []track.Track `json:"tracks"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NormalizeName trims a user-supplied playlist name and validates it.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return "", errors.Wrapf(ErrInvalidName, "got %q", name)
	}
	return name, nil
}

// Store persists playlists. Get and Delete return ErrNotFound when no
// playlist exists under the owner and name.
type Store interface {
	Get(ctx context.Context, ownerID, name string) (Playlist, error)
	Put(ctx context.Context, p Playlist) error
	Delete(ctx context.Context, ownerID, name string) error
	List(ctx context.Context, ownerID string) ([]Playlist, error)
}
