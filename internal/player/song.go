// Package player coordinates per-guild sequential playback: a song queue, a
// supervising state machine per guild, and a registry owning their lifecycles.
package player

import (
	"github.com/samcm/discord-jukebox/internal/media"
)

// Song is a resolved media reference paired with the user who requested it.
type Song struct {
	Info        media.Info
	RequesterID string
	ChannelID   string // Text channel the request came from
}

// NewSong creates a song requested by requesterID from channelID.
func NewSong(info media.Info, requesterID, channelID string) Song {
	return Song{
		Info:        info,
		RequesterID: requesterID,
		ChannelID:   channelID,
	}
}

// MediaRef returns the playable reference handed to the sink.
func (s Song) MediaRef() string {
	return s.Info.MediaRef
}

// Title returns the song title.
func (s Song) Title() string {
	return s.Info.Title
}
