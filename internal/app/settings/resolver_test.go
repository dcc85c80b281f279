package settings

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	data    map[string]GuildSettings
	getErr  error
	putErr  error
	putCnt  int
	lastPut GuildSettings
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]GuildSettings)}
}

func (f *fakeStore) Get(_ context.Context, guildID string) (*GuildSettings, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.data[guildID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) Put(_ context.Context, s GuildSettings) error {
	f.putCnt++
	f.lastPut = s
	if f.putErr != nil {
		return f.putErr
	}
	f.data[s.GuildID] = s
	return nil
}

type fakeChannels struct {
	channels []Channel
}

func (f *fakeChannels) TextChannels(string) []Channel {
	return f.channels
}

func TestGetDefaultsWhenAbsent(t *testing.T) {
	r := NewResolver(newFakeStore(), nil, nil)
	s := r.Get(context.Background(), "g1")
	assert.Equal(t, 50, s.DefaultVolume)
	assert.Equal(t, 100, s.MaxQueueSize)
	assert.False(t, s.AutoLeave)
	assert.False(t, s.AlwaysOn)
}

func TestGetPrefersPrimary(t *testing.T) {
	primary := newFakeStore()
	secondary := newFakeStore()
	primary.data["g1"] = GuildSettings{GuildID: "g1", DefaultVolume: 70}
	secondary.data["g1"] = GuildSettings{GuildID: "g1", DefaultVolume: 30}

	r := NewResolver(primary, secondary, nil)
	assert.Equal(t, 70, r.Get(context.Background(), "g1").DefaultVolume)
}

func TestGetFallsBackToSecondary(t *testing.T) {
	primary := newFakeStore()
	primary.getErr = errors.New("mysql down")
	secondary := newFakeStore()
	secondary.data["g1"] = GuildSettings{GuildID: "g1", DefaultVolume: 30}

	r := NewResolver(primary, secondary, nil)
	assert.Equal(t, 30, r.Get(context.Background(), "g1").DefaultVolume)
}

func TestGetUsesLastKnownGoodWhenStoresDown(t *testing.T) {
	primary := newFakeStore()
	r := NewResolver(primary, nil, nil)

	primary.data["g1"] = GuildSettings{GuildID: "g1", DefaultVolume: 80}
	require.Equal(t, 80, r.Get(context.Background(), "g1").DefaultVolume)

	primary.getErr = errors.New("mysql down")
	assert.Equal(t, 80, r.Get(context.Background(), "g1").DefaultVolume,
		"cached value must survive a store outage")
}

func TestSaveFallsBackToSecondary(t *testing.T) {
	primary := newFakeStore()
	primary.putErr = errors.New("mysql down")
	secondary := newFakeStore()

	r := NewResolver(primary, secondary, nil)
	err := r.Save(context.Background(), GuildSettings{GuildID: "g1", DefaultVolume: 65})
	assert.ErrorIs(t, err, ErrPrimaryUnavailable)
	assert.Equal(t, 65, secondary.data["g1"].DefaultVolume)
}

func TestSaveBothStoresDown(t *testing.T) {
	primary := newFakeStore()
	primary.putErr = errors.New("mysql down")
	secondary := newFakeStore()
	secondary.putErr = errors.New("redis down")

	r := NewResolver(primary, secondary, nil)
	err := r.Save(context.Background(), GuildSettings{GuildID: "g1", DefaultVolume: 65})
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)

	// The value still applies in memory for the rest of the session.
	primary.getErr = errors.New("mysql down")
	secondary.getErr = errors.New("redis down")
	assert.Equal(t, 65, r.Get(context.Background(), "g1").DefaultVolume)
}

func TestNotificationChannelExplicitWins(t *testing.T) {
	primary := newFakeStore()
	primary.data["g1"] = GuildSettings{GuildID: "g1", NowPlayingChannelID: "ch-configured"}
	channels := &fakeChannels{channels: []Channel{{ID: "ch-music", Name: "music-lounge"}}}

	r := NewResolver(primary, nil, channels)
	got := r.NotificationChannel(context.Background(), "g1", "ch-fallback")
	assert.Equal(t, "ch-configured", got)
}

func TestNotificationChannelAutoDetect(t *testing.T) {
	tests := []struct {
		name     string
		channels []Channel
		want     string
	}{
		{
			name: "keyword match",
			channels: []Channel{
				{ID: "ch-general", Name: "general"},
				{ID: "ch-music", Name: "Music-Requests"},
			},
			want: "ch-music",
		},
		{
			name: "cjk keyword match",
			channels: []Channel{
				{ID: "ch-general", Name: "general"},
				{ID: "ch-cjk", Name: "点歌-音乐频道"},
			},
			want: "ch-cjk",
		},
		{
			name: "first match wins",
			channels: []Channel{
				{ID: "ch-bot", Name: "bot-spam"},
				{ID: "ch-music", Name: "music"},
			},
			want: "ch-bot",
		},
		{
			name:     "no match falls back",
			channels: []Channel{{ID: "ch-general", Name: "general"}},
			want:     "ch-fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newFakeStore(), nil, &fakeChannels{channels: tt.channels})
			got := r.NotificationChannel(context.Background(), "g1", "ch-fallback")
			assert.Equal(t, tt.want, got)
		})
	}
}
