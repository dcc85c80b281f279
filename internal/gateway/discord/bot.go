// Package discord binds the coordinator to the Discord gateway: slash
// commands and buttons come in, status embeds go out, and voice credentials
// are relayed to the audio engine.
package discord

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/app/session"
	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/command"
	"github.com/groovebox-bot/groovebox/internal/engine/lavalink"
)

// Bot owns the discordgo session. It implements the voice gateway for the
// audio engine, the channel lister for settings auto-detection, the voice
// roster for idle detection, and the messenger for status messages.
type Bot struct {
	session  *discordgo.Session
	handler  *command.Handler
	node     *lavalink.Node
	registry *session.Registry

	userID string
	appID  string
}

// NewBot wraps an unopened discordgo session.
func NewBot(s *discordgo.Session) *Bot {
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates
	s.StateEnabled = true
	return &Bot{session: s}
}

// Bind wires the collaborators that are constructed after the bot.
func (b *Bot) Bind(h *command.Handler, node *lavalink.Node, reg *session.Registry) {
	b.handler = h
	b.node = node
	b.registry = reg
}

// Start opens the gateway connection and registers the slash commands.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteraction)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.AddHandler(b.onVoiceServerUpdate)

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord gateway")
	}

	b.userID = b.session.State.User.ID
	b.appID = b.session.State.User.ID

	if _, err := b.session.ApplicationCommandBulkOverwrite(b.appID, "", commandDefinitions()); err != nil {
		return errors.Wrap(err, "failed to register slash commands")
	}
	zlog.Info().Msgf("discord gateway ready: user_id=%s commands=%d", b.userID, len(commandDefinitions()))
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("logged in as %s#%s, guilds=%d",
		r.User.Username, r.User.Discriminator, len(r.Guilds))
}

// JoinVoiceChannel starts the voice handshake without opening a local UDP
// connection; the audio engine receives the stream instead.
func (b *Bot) JoinVoiceChannel(guildID, channelID string) error {
	return b.session.ChannelVoiceJoinManual(guildID, channelID, false, true)
}

// LeaveVoiceChannel disconnects the bot from voice in the guild.
func (b *Bot) LeaveVoiceChannel(guildID string) error {
	return b.session.ChannelVoiceJoinManual(guildID, "", false, true)
}

// onVoiceServerUpdate relays the server half of the voice handshake.
func (b *Bot) onVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	if b.node == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.node.HandleVoiceUpdate(ctx, e.GuildID, "", e.Token, e.Endpoint); err != nil {
		zlog.Warn().Msgf("failed to forward voice server update: guild_id=%s err=%v", e.GuildID, err)
	}
}

// onVoiceStateUpdate relays the bot's own session id to the engine and
// keeps sessions informed about listener counts.
func (b *Bot) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.UserID == b.userID {
		if b.node != nil && e.ChannelID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := b.node.HandleVoiceUpdate(ctx, e.GuildID, e.SessionID, "", ""); err != nil {
				zlog.Warn().Msgf("failed to forward voice state: guild_id=%s err=%v", e.GuildID, err)
			}
		}
		return
	}

	if b.registry == nil {
		return
	}
	s, ok := b.registry.Get(e.GuildID)
	if !ok {
		return
	}
	snap := s.Snapshot()
	if snap.VoiceChannelID == "" {
		return
	}
	s.OnVoiceOccupancy(b.ListenerCount(e.GuildID, snap.VoiceChannelID))
}

// ListenerCount counts non-bot members in a voice channel.
func (b *Bot) ListenerCount(guildID, channelID string) int {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return 0
	}
	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == b.userID {
			continue
		}
		member, err := b.session.State.Member(guildID, vs.UserID)
		if err == nil && member.User != nil && member.User.Bot {
			continue
		}
		count++
	}
	return count
}

// TextChannels lists the guild's text channels in display order, for
// notification channel auto-detection.
func (b *Bot) TextChannels(guildID string) []settings.Channel {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return nil
	}

	channels := make([]*discordgo.Channel, 0, len(guild.Channels))
	for _, ch := range guild.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			channels = append(channels, ch)
		}
	}
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].Position < channels[j].Position
	})

	out := make([]settings.Channel, len(channels))
	for i, ch := range channels {
		out[i] = settings.Channel{ID: ch.ID, Name: strings.ToLower(ch.Name)}
	}
	return out
}

// DeleteMessage removes a message posted by the bot.
func (b *Bot) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return b.session.ChannelMessageDelete(channelID, messageID)
}
