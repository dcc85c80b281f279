package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/command"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

const interactionTimeout = 15 * time.Second

// Button custom ids on the now-playing message.
const (
	buttonPause  = "player:pause"
	buttonResume = "player:resume"
	buttonSkip   = "player:skip"
	buttonStop   = "player:stop"
)

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if b.handler == nil || i.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.dispatchCommand(ctx, s, i)
	case discordgo.InteractionMessageComponent:
		b.dispatchComponent(ctx, s, i)
	}
}

func (b *Bot) invocation(i *discordgo.InteractionCreate) command.Invocation {
	inv := command.Invocation{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
	}
	if i.Member != nil && i.Member.User != nil {
		inv.Requester = track.Requester{
			ID:          i.Member.User.ID,
			DisplayName: i.Member.DisplayName(),
		}
		if vs, err := b.session.State.VoiceState(i.GuildID, i.Member.User.ID); err == nil && vs != nil {
			inv.VoiceChannelID = vs.ChannelID
		}
	}
	return inv
}

func (b *Bot) dispatchCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	inv := b.invocation(i)
	opts := optionMap(data.Options)

	var (
		reply string
		err   error
	)

	switch data.Name {
	case "play":
		reply, err = b.handler.Play(ctx, inv, opts.text("query"), false)
	case "playtop":
		reply, err = b.handler.Play(ctx, inv, opts.text("query"), true)
	case "pause":
		if err = b.handler.Pause(ctx, inv); err == nil {
			reply = "Paused."
		}
	case "resume":
		if err = b.handler.Resume(ctx, inv); err == nil {
			reply = "Resumed."
		}
	case "stop":
		var cleared int
		if cleared, err = b.handler.Stop(ctx, inv); err == nil {
			reply = fmt.Sprintf("Stopped. %d queued tracks discarded.", cleared)
		}
	case "skip":
		count := int(opts.integer("count", 1))
		var removed int
		if removed, err = b.handler.Skip(ctx, inv, count); err == nil {
			reply = fmt.Sprintf("Skipped %d track(s).", removed)
		}
	case "seek":
		pos := time.Duration(opts.integer("seconds", 0)) * time.Second
		if err = b.handler.Seek(ctx, inv, pos); err == nil {
			reply = fmt.Sprintf("Jumped to %s.", formatDuration(pos))
		}
	case "rewind":
		by := time.Duration(opts.integer("seconds", 0)) * time.Second
		if err = b.handler.Rewind(ctx, inv, by); err == nil {
			reply = "Rewound."
		}
	case "volume":
		level := int(opts.integer("level", 50))
		if err = b.handler.Volume(ctx, inv, level); err == nil {
			reply = fmt.Sprintf("Volume set to %d.", level)
		}
	case "queue":
		b.respondQueue(s, i, inv)
		return
	case "nowplaying":
		b.respondNowPlaying(s, i, inv)
		return
	case "remove":
		var removed track.Track
		if removed, err = b.handler.Remove(inv, int(opts.integer("position", 1))); err == nil {
			reply = fmt.Sprintf("Removed **%s**.", removed.Title)
		}
	case "move":
		from, to := int(opts.integer("from", 1)), int(opts.integer("to", 1))
		if err = b.handler.Move(inv, from, to); err == nil {
			reply = fmt.Sprintf("Moved track %d to position %d.", from, to)
		}
	case "removedupes":
		var n int
		if n, err = b.handler.RemoveDuplicates(inv); err == nil {
			reply = fmt.Sprintf("Removed %d duplicate(s).", n)
		}
	case "clearqueue":
		var n int
		if n, err = b.handler.ClearQueue(inv); err == nil {
			reply = fmt.Sprintf("Cleared %d track(s).", n)
		}
	case "shuffle":
		mode := opts.text("mode")
		if err = b.handler.Shuffle(inv, mode); err == nil {
			reply = fmt.Sprintf("Shuffle mode set to %s.", mode)
		}
	case "repeat":
		mode := opts.text("mode")
		if err = b.handler.Repeat(inv, mode); err == nil {
			reply = fmt.Sprintf("Repeat mode set to %s.", mode)
		}
	case "join":
		if err = b.handler.Join(ctx, inv); err == nil {
			reply = "Joined your voice channel."
		}
	case "leave":
		b.handler.Leave(ctx, inv)
		reply = "Bye."
	case "247":
		enabled := opts.boolean("enabled")
		if err = b.handler.SetAlwaysOn(ctx, inv, enabled); err == nil {
			if enabled {
				reply = "24/7 mode on, I'll stick around."
			} else {
				reply = "24/7 mode off."
			}
		}
	case "sleeptimer":
		reply, err = b.handler.SleepTimer(inv, int(opts.integer("minutes", 0)))
	case "defaultvolume":
		level := int(opts.integer("level", 50))
		if err = b.handler.SetDefaultVolume(ctx, inv, level); err == nil {
			reply = fmt.Sprintf("Default volume set to %d.", level)
		}
	case "autoleave":
		enabled := opts.boolean("enabled")
		if err = b.handler.SetAutoLeave(ctx, inv, enabled); err == nil {
			if enabled {
				reply = "I'll leave shortly after the queue ends."
			} else {
				reply = "Auto-leave off."
			}
		}
	case "statuschannel":
		channelID := opts.channel("channel")
		if err = b.handler.SetNowPlayingChannel(ctx, inv, channelID); err == nil {
			if channelID != "" {
				reply = fmt.Sprintf("Status messages go to <#%s> now.", channelID)
			} else {
				reply = "Status channel reset to auto-detect."
			}
		}
	case "playlist":
		b.respondPlaylist(ctx, s, i, inv)
		return
	case "settings":
		b.respondSettings(s, i, inv)
		return
	default:
		zlog.Warn().Msgf("unknown command: name=%s guild_id=%s", data.Name, i.GuildID)
		return
	}

	if err != nil {
		zlog.Debug().Msgf("command failed: name=%s guild_id=%s err=%v", data.Name, i.GuildID, err)
		b.respondEphemeral(s, i, command.UserMessage(err))
		return
	}
	b.respond(s, i, reply)
}

func (b *Bot) dispatchComponent(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv := b.invocation(i)

	var err error
	switch i.MessageComponentData().CustomID {
	case buttonPause:
		err = b.handler.Pause(ctx, inv)
	case buttonResume:
		err = b.handler.Resume(ctx, inv)
	case buttonSkip:
		_, err = b.handler.Skip(ctx, inv, 1)
	case buttonStop:
		_, err = b.handler.Stop(ctx, inv)
	default:
		return
	}

	if err != nil {
		b.respondEphemeral(s, i, command.UserMessage(err))
		return
	}
	// Acknowledge without posting; the now-playing message tells the story.
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

func (b *Bot) respondQueue(s *discordgo.Session, i *discordgo.InteractionCreate, inv command.Invocation) {
	snap, err := b.handler.Snapshot(inv)
	if err != nil {
		b.respondEphemeral(s, i, command.UserMessage(err))
		return
	}
	b.respondEmbed(s, i, queueEmbed(snap))
}

func (b *Bot) respondNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate, inv command.Invocation) {
	snap, err := b.handler.Snapshot(inv)
	if err != nil || snap.Current == nil {
		b.respondEphemeral(s, i, "Nothing is playing.")
		return
	}
	b.respondEmbed(s, i, nowPlayingEmbed(*snap.Current, snap))
}

func (b *Bot) respondPlaylist(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, inv command.Invocation) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)
	name := opts.text("name")
	server := opts.boolean("server")

	var (
		reply string
		err   error
	)
	switch sub.Name {
	case "save":
		var n int
		if n, err = b.handler.SavePlaylist(ctx, inv, name, server); err == nil {
			reply = fmt.Sprintf("Saved **%s** with %d track(s).", name, n)
		}
	case "load":
		var n int
		if n, err = b.handler.LoadPlaylist(ctx, inv, name, server); err == nil {
			reply = fmt.Sprintf("Queued %d track(s) from **%s**.", n, name)
		}
	case "delete":
		if err = b.handler.DeletePlaylist(ctx, inv, name, server); err == nil {
			reply = fmt.Sprintf("Deleted **%s**.", name)
		}
	case "list":
		lists, lerr := b.handler.ListPlaylists(ctx, inv, server)
		if lerr != nil {
			b.respondEphemeral(s, i, command.UserMessage(lerr))
			return
		}
		if len(lists) == 0 {
			b.respondEphemeral(s, i, "No playlists saved yet.")
			return
		}
		var sb strings.Builder
		for _, p := range lists {
			fmt.Fprintf(&sb, "**%s** (%d tracks)\n", p.Name, len(p.Tracks))
		}
		b.respondEmbed(s, i, &discordgo.MessageEmbed{
			Title:       "Playlists",
			Description: sb.String(),
			Color:       embedColor,
		})
		return
	default:
		return
	}

	if err != nil {
		b.respondEphemeral(s, i, command.UserMessage(err))
		return
	}
	b.respond(s, i, reply)
}

func (b *Bot) respondSettings(s *discordgo.Session, i *discordgo.InteractionCreate, inv command.Invocation) {
	gs := b.handler.Settings(context.Background(), inv)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Default volume: **%d**\n", gs.DefaultVolume)
	fmt.Fprintf(&sb, "Max queue size: **%d**\n", gs.MaxQueueSize)
	fmt.Fprintf(&sb, "24/7 mode: **%v**\n", gs.AlwaysOn)
	fmt.Fprintf(&sb, "Auto-leave: **%v**\n", gs.AutoLeave)
	if gs.NowPlayingChannelID != "" {
		fmt.Fprintf(&sb, "Status channel: <#%s>\n", gs.NowPlayingChannelID)
	} else {
		sb.WriteString("Status channel: auto-detect\n")
	}
	b.respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Settings",
		Description: sb.String(),
		Color:       embedColor,
	})
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		zlog.Warn().Msgf("failed to respond to interaction: err=%v", err)
	}
}

func (b *Bot) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		zlog.Warn().Msgf("failed to respond to interaction: err=%v", err)
	}
}

func (b *Bot) respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	})
	if err != nil {
		zlog.Warn().Msgf("failed to respond to interaction: err=%v", err)
	}
}

// options is a name-indexed view over interaction options.
type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (o options) text(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) integer(name string, def int64) int64 {
	if opt, ok := o[name]; ok {
		return opt.IntValue()
	}
	return def
}

func (o options) channel(name string) string {
	if opt, ok := o[name]; ok {
		if v, ok := opt.Value.(string); ok {
			return v
		}
	}
	return ""
}

func (o options) boolean(name string) bool {
	if opt, ok := o[name]; ok {
		return opt.BoolValue()
	}
	return false
}
