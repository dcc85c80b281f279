package discord

import "github.com/bwmarrin/discordgo"

func commandDefinitions() []*discordgo.ApplicationCommand {
	minVolume := float64(0)
	minOne := float64(1)

	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a track or playlist, or queue it if something is playing",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Search terms or a URL",
					Required:    true,
				},
			},
		},
		{
			Name:        "playtop",
			Description: "Play a track next, ahead of the rest of the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Search terms or a URL",
					Required:    true,
				},
			},
		},
		{Name: "pause", Description: "Pause playback"},
		{Name: "resume", Description: "Resume playback"},
		{Name: "stop", Description: "Stop playback and clear the queue"},
		{
			Name:        "skip",
			Description: "Skip the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: "Number of tracks to skip",
					MinValue:    &minOne,
				},
			},
		},
		{
			Name:        "seek",
			Description: "Jump to a position in the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "Position in seconds",
					Required:    true,
					MinValue:    &minVolume,
				},
			},
		},
		{
			Name:        "rewind",
			Description: "Rewind the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "Seconds to go back, omit to restart the track",
					MinValue:    &minOne,
				},
			},
		},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "Volume from 0 to 100",
					Required:    true,
					MinValue:    &minVolume,
					MaxValue:    100,
				},
			},
		},
		{Name: "queue", Description: "Show the queue"},
		{Name: "nowplaying", Description: "Show the current track"},
		{
			Name:        "remove",
			Description: "Remove a track from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "position",
					Description: "Queue position, starting at 1",
					Required:    true,
					MinValue:    &minOne,
				},
			},
		},
		{
			Name:        "move",
			Description: "Move a track to another queue position",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "from",
					Description: "Current position",
					Required:    true,
					MinValue:    &minOne,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "to",
					Description: "Target position",
					Required:    true,
					MinValue:    &minOne,
				},
			},
		},
		{Name: "removedupes", Description: "Remove duplicate tracks from the queue"},
		{Name: "clearqueue", Description: "Remove every queued track"},
		{
			Name:        "shuffle",
			Description: "Set the shuffle mode",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "Shuffle mode",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "off", Value: "off"},
						{Name: "normal", Value: "normal"},
						{Name: "smart (spread artists apart)", Value: "smart"},
					},
				},
			},
		},
		{
			Name:        "repeat",
			Description: "Set the repeat mode",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "Repeat mode",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "off", Value: "off"},
						{Name: "track", Value: "track"},
						{Name: "queue", Value: "queue"},
					},
				},
			},
		},
		{Name: "join", Description: "Join your voice channel"},
		{Name: "leave", Description: "Leave the voice channel and forget the session"},
		{
			Name:        "247",
			Description: "Toggle 24/7 mode, which disables the idle disconnect",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Stay in the channel around the clock",
					Required:    true,
				},
			},
		},
		{
			Name:        "sleeptimer",
			Description: "Stop playing after a delay",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Minutes until shutdown (1-480), 0 cancels",
					Required:    true,
					MinValue:    &minVolume,
					MaxValue:    480,
				},
			},
		},
		{
			Name:        "defaultvolume",
			Description: "Set the volume applied when the bot joins",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "Volume from 0 to 100",
					Required:    true,
					MinValue:    &minVolume,
					MaxValue:    100,
				},
			},
		},
		{
			Name:        "autoleave",
			Description: "Toggle leaving voice shortly after the queue ends",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Leave once the queue runs out",
					Required:    true,
				},
			},
		},
		{
			Name:        "statuschannel",
			Description: "Pin status messages to a channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Channel for now-playing messages, omit to auto-detect",
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
			},
		},
		{
			Name:        "playlist",
			Description: "Save, load, and manage playlists",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "save",
					Description: "Save the current queue as a playlist",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Playlist name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "server",
							Description: "Save for the whole server instead of just you",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "load",
					Description: "Queue a saved playlist",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Playlist name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "server",
							Description: "Load a server playlist",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "delete",
					Description: "Delete a saved playlist",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Playlist name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "server",
							Description: "Delete a server playlist",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List saved playlists",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "server",
							Description: "List server playlists",
						},
					},
				},
			},
		},
		{Name: "settings", Description: "Show the current settings"},
	}
}
