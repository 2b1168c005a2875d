package discord

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/samcm/discord-jukebox/internal/jukebox"
	"github.com/samcm/discord-jukebox/internal/media"
	"github.com/samcm/discord-jukebox/internal/player"
)

const (
	colorPlaying = 0x1DB954
	colorQueue   = 0x5865F2
)

// nowPlayingEmbed describes the song currently playing.
func nowPlayingEmbed(song player.Song) *discordgo.MessageEmbed {
	info := song.Info

	embed := &discordgo.MessageEmbed{
		Title:       "Now playing",
		Description: fmt.Sprintf("```css\n%s\n```", info.Title),
		Color:       colorPlaying,
		Timestamp:   time.Now().Format(time.RFC3339),
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "⏱️ Duration",
			Value:  media.FormatDuration(info.Duration),
			Inline: true,
		},
		{
			Name:   "🙋 Requested by",
			Value:  fmt.Sprintf("<@%s>", song.RequesterID),
			Inline: true,
		},
	}

	if info.Uploader != "" {
		uploader := info.Uploader
		if info.UploaderURL != "" {
			uploader = fmt.Sprintf("[%s](%s)", info.Uploader, info.UploaderURL)
		}

		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "📺 Uploader",
			Value:  uploader,
			Inline: true,
		})
	}

	if info.WebpageURL != "" {
		embed.URL = info.WebpageURL

		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "🔗 URL",
			Value:  fmt.Sprintf("[Click](%s)", info.WebpageURL),
			Inline: true,
		})
	}

	embed.Fields = fields

	if info.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: info.ThumbnailURL}
	}

	if info.ViewCount > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d views", info.ViewCount),
		}
	}

	return embed
}

// queueEmbed renders one page of the queue with 1-based positions.
func queueEmbed(page jukebox.QueuePage) *discordgo.MessageEmbed {
	var content strings.Builder

	fmt.Fprintf(&content, "**%d tracks:**\n\n", page.Total)

	for i, song := range page.Songs {
		pos := page.Offset + i + 1

		if url := song.Info.WebpageURL; url != "" {
			fmt.Fprintf(&content, "`%d.` [**%s**](%s)\n", pos, song.Title(), url)
		} else {
			fmt.Fprintf(&content, "`%d.` **%s**\n", pos, song.Title())
		}
	}

	return &discordgo.MessageEmbed{
		Description: strings.TrimRight(content.String(), "\n"),
		Color:       colorQueue,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Viewing page %d/%d", page.Page, page.Pages),
		},
	}
}

func skipReply(res player.SkipResult) string {
	if res.Skipped {
		return "⏭ Skipped."
	}

	return fmt.Sprintf("Skip vote added, currently at **%d/%d**", res.Votes, res.Required)
}

// errorMessage turns a command error into the text shown to the user.
func errorMessage(err error) string {
	var resErr *media.ResolutionError

	switch {
	case errors.As(err, &resErr):
		return resErr.Error()
	case errors.Is(err, player.ErrNotPlaying):
		return "Nothing being played at the moment."
	case errors.Is(err, player.ErrAlreadyVoted):
		return "You have already voted to skip this song."
	case errors.Is(err, player.ErrNotConnected):
		return "Not connected to any voice channel."
	case errors.Is(err, player.ErrIndexOutOfRange):
		return "Invalid song index."
	case errors.Is(err, jukebox.ErrNoVoiceChannel):
		return "You are not connected to any voice channel."
	case errors.Is(err, jukebox.ErrOtherChannel):
		return "Bot is already in a voice channel."
	case errors.Is(err, jukebox.ErrInvalidVolume):
		return "Volume must be between 0 and 100."
	case errors.Is(err, jukebox.ErrEmptyQueue):
		return "Empty queue."
	default:
		return fmt.Sprintf("An error occurred while processing this request: %v", err)
	}
}
