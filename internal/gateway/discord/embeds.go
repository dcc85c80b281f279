package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/groovebox-bot/groovebox/internal/app/session"
	"github.com/groovebox-bot/groovebox/internal/domain/track"
)

const embedColor = 0x1db954

const maxQueueLines = 10

// SendNowPlaying posts the now-playing embed with the transport buttons.
func (b *Bot) SendNowPlaying(_ context.Context, channelID string, t track.Track, snap session.Snapshot) (string, error) {
	msg, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{nowPlayingEmbed(t, snap)},
		Components: playerButtons(snap),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to send now-playing message")
	}
	return msg.ID, nil
}

// SendIdleWarning posts a disconnect countdown warning.
func (b *Bot) SendIdleWarning(_ context.Context, channelID string, remaining time.Duration) (string, error) {
	msg, err := b.session.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
		Title:       "Still there?",
		Description: fmt.Sprintf("Leaving the voice channel in **%s** unless someone needs me.", formatDuration(remaining)),
		Color:       0xe67e22,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to send idle warning")
	}
	return msg.ID, nil
}

func nowPlayingEmbed(t track.Track, snap session.Snapshot) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: fmt.Sprintf("**%s**\nby %s", t.Title, t.Author),
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: formatDuration(t.Duration), Inline: true},
			{Name: "Volume", Value: fmt.Sprintf("%d", snap.Volume), Inline: true},
			{Name: "Up next", Value: fmt.Sprintf("%d track(s)", snap.QueueLength), Inline: true},
		},
	}
	if t.URI != "" {
		e.URL = t.URI
	}
	if t.ArtworkURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.ArtworkURL}
	}
	if t.Requester.DisplayName != "" {
		e.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Requested by %s", t.Requester.DisplayName),
		}
	}
	return e
}

func queueEmbed(snap session.Snapshot) *discordgo.MessageEmbed {
	var sb strings.Builder

	if snap.Current != nil {
		fmt.Fprintf(&sb, "**Now:** %s (%s)\n\n", snap.Current.Title, formatDuration(snap.Current.Duration))
	}
	if len(snap.Queue) == 0 {
		sb.WriteString("The queue is empty.")
	}
	for i, t := range snap.Queue {
		if i == maxQueueLines {
			fmt.Fprintf(&sb, "...and %d more", len(snap.Queue)-maxQueueLines)
			break
		}
		fmt.Fprintf(&sb, "`%2d.` %s (%s)\n", i+1, t.Title, formatDuration(t.Duration))
	}

	var total time.Duration
	for _, t := range snap.Queue {
		total += t.Duration
	}

	return &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: sb.String(),
		Color:       embedColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d track(s), %s | repeat: %s | shuffle: %s",
				snap.QueueLength, formatDuration(total), snap.Repeat, snap.Shuffle),
		},
	}
}

func playerButtons(snap session.Snapshot) []discordgo.MessageComponent {
	pauseResume := discordgo.Button{
		Label:    "Pause",
		Style:    discordgo.SecondaryButton,
		CustomID: buttonPause,
	}
	if snap.State == session.StatePaused {
		pauseResume = discordgo.Button{
			Label:    "Resume",
			Style:    discordgo.PrimaryButton,
			CustomID: buttonResume,
		}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				pauseResume,
				discordgo.Button{Label: "Skip", Style: discordgo.SecondaryButton, CustomID: buttonSkip},
				discordgo.Button{Label: "Stop", Style: discordgo.DangerButton, CustomID: buttonStop},
			},
		},
	}
}

// formatDuration renders m:ss, or h:mm:ss for long tracks.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
