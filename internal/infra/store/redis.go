package store

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/groovebox-bot/groovebox/internal/app/settings"
)

const settingsKeyPrefix = "groovebox:settings:"

// Redis is the fallback settings store, used when MySQL is unreachable.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (r *Redis) Get(ctx context.Context, guildID string) (*settings.GuildSettings, error) {
	raw, err := r.client.Get(ctx, settingsKeyPrefix+guildID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load guild settings from redis")
	}
	var s settings.GuildSettings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, errors.Wrap(err, "failed to decode guild settings")
	}
	return &s, nil
}

func (r *Redis) Put(ctx context.Context, s settings.GuildSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to encode guild settings")
	}
	if err := r.client.Set(ctx, settingsKeyPrefix+s.GuildID, raw, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to save guild settings to redis")
	}
	return nil
}

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return errors.Wrap(r.client.Ping(ctx).Err(), "redis unreachable")
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
