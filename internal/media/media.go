// Package media resolves free-text queries and links into playable media references.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoMatch is returned when a query yields no playable result.
var ErrNoMatch = errors.New("no match")

// Info describes a resolved, playable piece of media.
type Info struct {
	MediaRef     string // Direct stream URL handed to the playback sink
	Title        string
	Uploader     string
	UploaderURL  string
	Duration     time.Duration
	ThumbnailURL string
	WebpageURL   string
	ViewCount    int
	LikeCount    int
	DislikeCount int
}

// String renders the info the way enqueue confirmations show it.
func (i Info) String() string {
	if i.Uploader == "" {
		return fmt.Sprintf("**%s**", i.Title)
	}

	return fmt.Sprintf("**%s** by **%s**", i.Title, i.Uploader)
}

// Resolver turns a query into playable media.
type Resolver interface {
	Resolve(ctx context.Context, query string) (Info, error)
}

// ResolutionError reports a query that could not be resolved.
type ResolutionError struct {
	Query string
	Err   error
}

func (e *ResolutionError) Error() string {
	if errors.Is(e.Err, ErrNoMatch) {
		return fmt.Sprintf("couldn't find anything that matches `%s`", e.Query)
	}

	return fmt.Sprintf("couldn't fetch `%s`: %v", e.Query, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// FormatDuration renders a duration as "1 days, 2 hours, 3 minutes, 4 seconds",
// omitting zero components. Zero renders as "live".
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total <= 0 {
		return "live"
	}

	minutes, seconds := total/60, total%60
	hours, minutes := minutes/60, minutes%60
	days, hours := hours/24, hours%24

	var parts []string

	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}

	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}

	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}

	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%d seconds", seconds))
	}

	return strings.Join(parts, ", ")
}
