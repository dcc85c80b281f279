package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/groovebox-bot/groovebox/internal/app/playlist"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

// playlistRecord is the MySQL row shape for saved playlists. Tracks are a
// JSON blob; nothing queries inside them.
type playlistRecord struct {
	OwnerID   string `gorm:"primaryKey;size:32"`
	Name      string `gorm:"primaryKey;size:64"`
	Tracks    []byte `gorm:"type:json"`
	UpdatedAt time.Time
}

func (playlistRecord) TableName() string {
	return "playlists"
}

// PlaylistMySQL stores playlists in the same database as guild settings.
type PlaylistMySQL struct {
	db *gorm.DB
}

// Playlists returns a playlist store sharing this connection.
func (m *MySQL) Playlists() *PlaylistMySQL {
	return &PlaylistMySQL{db: m.db}
}

func (p *PlaylistMySQL) Get(ctx context.Context, ownerID, name string) (playlist.Playlist, error) {
	var rec playlistRecord
	err := p.db.WithContext(ctx).First(&rec, "owner_id = ? AND name = ?", ownerID, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return playlist.Playlist{}, playlist.ErrNotFound
	}
	if err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to load playlist")
	}
	return recordToPlaylist(rec)
}

func (p *PlaylistMySQL) Put(ctx context.Context, pl playlist.Playlist) error {
	raw, err := json.Marshal(pl.Tracks)
	if err != nil {
		return errors.Wrap(err, "failed to encode playlist tracks")
	}
	rec := playlistRecord{OwnerID: pl.OwnerID, Name: pl.Name, Tracks: raw, UpdatedAt: pl.UpdatedAt}
	err = p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	return errors.Wrap(err, "failed to save playlist")
}

func (p *PlaylistMySQL) Delete(ctx context.Context, ownerID, name string) error {
	res := p.db.WithContext(ctx).Delete(&playlistRecord{}, "owner_id = ? AND name = ?", ownerID, name)
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to delete playlist")
	}
	if res.RowsAffected == 0 {
		return playlist.ErrNotFound
	}
	return nil
}

func (p *PlaylistMySQL) List(ctx context.Context, ownerID string) ([]playlist.Playlist, error) {
	var recs []playlistRecord
	err := p.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("name").Find(&recs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list playlists")
	}
	out := make([]playlist.Playlist, 0, len(recs))
	for _, rec := range recs {
		pl, err := recordToPlaylist(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, nil
}

func recordToPlaylist(rec playlistRecord) (playlist.Playlist, error) {
	var tracks []track.Track
	if err := json.Unmarshal(rec.Tracks, &tracks); err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to decode playlist tracks")
	}
	return playlist.Playlist{
		OwnerID:   rec.OwnerID,
		Name:      rec.Name,
		Tracks:    tracks,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
