package teamspeak

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samcm/discord-jukebox/internal/media"
	"github.com/samcm/discord-jukebox/internal/player"
)

// Audience is a snapshot of the people who would see a mirrored announcement.
type Audience struct {
	ServerName string
	Nicknames  []string // Sorted; ServerQuery clients excluded
}

// Listeners returns the number of real clients online.
func (a Audience) Listeners() int {
	return len(a.Nicknames)
}

// member is one connected client as reported by the client list.
type member struct {
	Nickname string
	Query    bool
}

func newAudience(serverName string, members []member) Audience {
	nicknames := make([]string, 0, len(members))

	for _, m := range members {
		if m.Query {
			continue
		}

		nicknames = append(nicknames, m.Nickname)
	}

	slices.Sort(nicknames)

	return Audience{
		ServerName: serverName,
		Nicknames:  nicknames,
	}
}

func nowPlayingMessage(song player.Song) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Now playing: %s", song.Title())

	if up := song.Info.Uploader; up != "" {
		fmt.Fprintf(&b, " by %s", up)
	}

	fmt.Fprintf(&b, " (%s)", media.FormatDuration(song.Info.Duration))

	if url := song.Info.WebpageURL; url != "" {
		fmt.Fprintf(&b, " [URL]%s[/URL]", url)
	}

	return b.String()
}

func playbackFailedMessage(song player.Song) string {
	return fmt.Sprintf("Could not play: %s", song.Title())
}
