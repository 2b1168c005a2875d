package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/samcm/discord-jukebox/internal/jukebox"
)

// invocation is a slash command call stripped of its transport details.
type invocation struct {
	GuildID        string
	ChannelID      string
	UserID         string
	VoiceChannelID string // Caller's current voice channel, empty if none
	Options        map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func (inv invocation) stringOption(name string) string {
	opt, ok := inv.Options[name]
	if !ok {
		return ""
	}

	return fmt.Sprint(opt.Value)
}

func (inv invocation) intOption(name string, fallback int) int {
	opt, ok := inv.Options[name]
	if !ok {
		return fallback
	}

	return int(opt.IntValue())
}

type reply struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

type commandHandler func(ctx context.Context, jb jukebox.Service, inv invocation) (reply, error)

var (
	minVolume = 0.0
	minIndex  = 1.0
)

var commandDefinitions = []*discordgo.ApplicationCommand{
	{
		Name:        "join",
		Description: "Join your voice channel, or the given one",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Voice channel to join",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
			},
		},
	},
	{
		Name:        "play",
		Description: "Search or link a song and add it to the queue",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "Search terms or a link",
				Required:    true,
			},
		},
	},
	{Name: "skip", Description: "Vote to skip the current song"},
	{
		Name:        "volume",
		Description: "Set the player volume",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "percent",
				Description: "Volume from 0 to 100",
				Required:    true,
				MinValue:    &minVolume,
				MaxValue:    100,
			},
		},
	},
	{Name: "loop", Description: "Toggle looping of the current song"},
	{Name: "shuffle", Description: "Shuffle the queue"},
	{
		Name:        "remove",
		Description: "Remove a song from the queue",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "index",
				Description: "Position in the queue",
				Required:    true,
				MinValue:    &minIndex,
			},
		},
	},
	{
		Name:        "queue",
		Description: "Show the queue",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "page",
				Description: "Page number",
				MinValue:    &minIndex,
			},
		},
	},
	{Name: "stop", Description: "Stop playing and clear the queue"},
	{Name: "leave", Description: "Clear the queue and leave the voice channel"},
	{Name: "now", Description: "Show the song currently playing"},
	{Name: "pause", Description: "Pause the current song"},
	{Name: "resume", Description: "Resume the current song"},
}

var commandHandlers = map[string]commandHandler{
	"join":    handleJoin,
	"play":    handlePlay,
	"skip":    handleSkip,
	"volume":  handleVolume,
	"loop":    handleLoop,
	"shuffle": handleShuffle,
	"remove":  handleRemove,
	"queue":   handleQueue,
	"stop":    handleStop,
	"leave":   handleLeave,
	"now":     handleNow,
	"pause":   handlePause,
	"resume":  handleResume,
}

func handleJoin(ctx context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	channelID := inv.stringOption("channel")
	if channelID == "" {
		channelID = inv.VoiceChannelID
	}

	if err := jb.Join(ctx, inv.GuildID, channelID); err != nil {
		return reply{}, err
	}

	return reply{Content: fmt.Sprintf("Joined <#%s>", channelID)}, nil
}

func handlePlay(ctx context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	res, err := jb.Enqueue(ctx, jukebox.Request{
		GuildID:        inv.GuildID,
		TextChannelID:  inv.ChannelID,
		VoiceChannelID: inv.VoiceChannelID,
		RequesterID:    inv.UserID,
		Query:          inv.stringOption("query"),
	})
	if err != nil {
		return reply{}, err
	}

	return reply{Content: fmt.Sprintf("Enqueued %s", res.Song.Info)}, nil
}

func handleSkip(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	res, err := jb.Skip(inv.GuildID, inv.UserID)
	if err != nil {
		return reply{}, err
	}

	return reply{Content: skipReply(res)}, nil
}

func handleVolume(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	percent := inv.intOption("percent", -1)

	if err := jb.SetVolume(inv.GuildID, percent); err != nil {
		return reply{}, err
	}

	return reply{Content: fmt.Sprintf("Volume of the player set to %d%%", percent)}, nil
}

func handleLoop(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	on, err := jb.ToggleLoop(inv.GuildID)
	if err != nil {
		return reply{}, err
	}

	if on {
		return reply{Content: "🔁 Looping enabled."}, nil
	}

	return reply{Content: "➡️ Looping disabled."}, nil
}

func handleShuffle(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	if err := jb.Shuffle(inv.GuildID); err != nil {
		return reply{}, err
	}

	return reply{Content: "🔀 Shuffled the queue."}, nil
}

func handleRemove(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	song, err := jb.RemoveAt(inv.GuildID, inv.intOption("index", 0))
	if err != nil {
		return reply{}, err
	}

	return reply{Content: fmt.Sprintf("Removed **%s** from the queue.", song.Title())}, nil
}

func handleQueue(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	page, err := jb.ListQueue(inv.GuildID, inv.intOption("page", 1))
	if err != nil {
		return reply{}, err
	}

	return reply{Embed: queueEmbed(page)}, nil
}

func handleStop(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	stopped, err := jb.Halt(inv.GuildID)
	if err != nil {
		return reply{}, err
	}

	if !stopped {
		return reply{Content: "Cleared the queue."}, nil
	}

	return reply{Content: "⏹ Stopped and cleared the queue."}, nil
}

func handleLeave(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	if err := jb.Leave(inv.GuildID); err != nil {
		return reply{}, err
	}

	return reply{Content: "👋 Disconnected."}, nil
}

func handleNow(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	song, err := jb.Current(inv.GuildID)
	if err != nil {
		return reply{}, err
	}

	return reply{Embed: nowPlayingEmbed(song)}, nil
}

func handlePause(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	if err := jb.Pause(inv.GuildID); err != nil {
		return reply{}, err
	}

	return reply{Content: "⏸ Paused."}, nil
}

func handleResume(_ context.Context, jb jukebox.Service, inv invocation) (reply, error) {
	if err := jb.Resume(inv.GuildID); err != nil {
		return reply{}, err
	}

	return reply{Content: "▶️ Resumed."}, nil
}

// dispatch runs the named command. Errors become user-facing replies.
func dispatch(ctx context.Context, jb jukebox.Service, name string, inv invocation) (reply, error) {
	handler, ok := commandHandlers[name]
	if !ok {
		return reply{}, fmt.Errorf("unknown command %q", name)
	}

	r, err := handler(ctx, jb, inv)
	if err != nil {
		return reply{Content: errorMessage(err)}, err
	}

	return r, nil
}
