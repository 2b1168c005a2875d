package jukebox

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/samcm/discord-jukebox/internal/player"
)

// NowPlaying announces song on the transport and every active mirror.
func (s *service) NowPlaying(guildID string, song player.Song) {
	s.fanOut(guildID, song, "now playing", func(ctx context.Context, a Announcer) error {
		return a.AnnounceNowPlaying(ctx, guildID, song)
	})
}

// PlaybackFailed reports a song that could not be played.
func (s *service) PlaybackFailed(guildID string, song player.Song, err error) {
	s.fanOut(guildID, song, "playback failure", func(ctx context.Context, a Announcer) error {
		return a.AnnouncePlaybackFailed(ctx, guildID, song, err)
	})
}

// LeaveVoice disconnects sink from the guild's voice channel.
func (s *service) LeaveVoice(guildID string, sink player.Sink) error {
	return s.transport.LeaveVoice(guildID, sink)
}

func (s *service) fanOut(guildID string, song player.Song, event string, fn func(ctx context.Context, a Announcer) error) {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	s.mu.RLock()
	targets := make([]Announcer, 0, len(s.active)+1)
	targets = append(targets, s.transport)

	for _, m := range s.active {
		targets = append(targets, m)
	}
	s.mu.RUnlock()

	for _, a := range targets {
		if err := fn(ctx, a); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"guild_id": guildID,
				"title":    song.Title(),
				"event":    event,
			}).Warn("Failed to announce")
		}
	}
}
