package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/groovebox-bot/groovebox/internal/app/settings"
)

// guildSettingsRecord is the MySQL row shape for per-guild settings.
type guildSettingsRecord struct {
	GuildID             string `gorm:"primaryKey;size:32"`
	NowPlayingChannelID string `gorm:"size:32"`
	DefaultVolume       int
	AlwaysOn            bool
	AutoLeave           bool
	MaxQueueSize        int
}

func (guildSettingsRecord) TableName() string {
	return "guild_settings"
}

// MySQL is the primary durable settings store.
type MySQL struct {
	db *gorm.DB
}

// NewMySQL opens the database and migrates the settings and playlist tables.
func NewMySQL(dsn string) (*MySQL, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mysql")
	}
	if err := db.AutoMigrate(&guildSettingsRecord{}, &playlistRecord{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate tables")
	}
	return &MySQL{db: db}, nil
}

func (m *MySQL) Get(ctx context.Context, guildID string) (*settings.GuildSettings, error) {
	var rec guildSettingsRecord
	err := m.db.WithContext(ctx).First(&rec, "guild_id = ?", guildID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load guild settings")
	}
	s := settings.GuildSettings{
		GuildID:             rec.GuildID,
		NowPlayingChannelID: rec.NowPlayingChannelID,
		DefaultVolume:       rec.DefaultVolume,
		AlwaysOn:            rec.AlwaysOn,
		AutoLeave:           rec.AutoLeave,
		MaxQueueSize:        rec.MaxQueueSize,
	}
	return &s, nil
}

func (m *MySQL) Put(ctx context.Context, s settings.GuildSettings) error {
	rec := guildSettingsRecord{
		GuildID:             s.GuildID,
		NowPlayingChannelID: s.NowPlayingChannelID,
		DefaultVolume:       s.DefaultVolume,
		AlwaysOn:            s.AlwaysOn,
		AutoLeave:           s.AutoLeave,
		MaxQueueSize:        s.MaxQueueSize,
	}
	err := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	return errors.Wrap(err, "failed to save guild settings")
}
