package main

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/samcm/discord-jukebox/internal/media"
)

func TestRenderInfoBoxIsAligned(t *testing.T) {
	out := renderInfo(media.Info{
		Title:      "A very long title that keeps going well past the width of the box it is drawn in",
		Uploader:   "Uploader",
		Duration:   4*time.Minute + 2*time.Second,
		WebpageURL: "https://www.youtube.com/watch?v=abcdefghijk",
		ViewCount:  99,
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 8)

	for _, line := range lines {
		assert.Equal(t, boxWidth+2, utf8.RuneCountInString(line), line)
	}

	assert.Contains(t, out, "Duration: 4 minutes, 2 seconds")
	assert.Contains(t, out, "...")
}

func TestRenderInfoSkipsEmptyRows(t *testing.T) {
	out := renderInfo(media.Info{Title: "Live radio"})

	assert.NotContains(t, out, "Uploader")
	assert.NotContains(t, out, "Views")
	assert.Contains(t, out, "Duration: live")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncate("éééééééé", 6))
}
