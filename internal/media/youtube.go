package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	youtube "github.com/kkdai/youtube/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.youtube.com"

var watchIDPattern = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)

// Config holds resolver settings.
type Config struct {
	RequestsPerMinute int
	Timeout           time.Duration
}

// YouTubeResolver resolves links and search terms against YouTube.
type YouTubeResolver struct {
	log     logrus.FieldLogger
	baseURL string
	http    *http.Client
	client  *youtube.Client
	limiter *rate.Limiter
}

// NewYouTubeResolver creates a resolver. Lookups are throttled to cfg.RequestsPerMinute.
func NewYouTubeResolver(log logrus.FieldLogger, cfg Config) *YouTubeResolver {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &YouTubeResolver{
		log:     log.WithField("component", "resolver"),
		baseURL: defaultBaseURL,
		http:    httpClient,
		client:  &youtube.Client{HTTPClient: httpClient},
		limiter: rate.NewLimiter(limit, 3),
	}
}

// Resolve looks up query, searching first when it is not a link.
func (r *YouTubeResolver) Resolve(ctx context.Context, query string) (Info, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Info{}, &ResolutionError{Query: query, Err: ErrNoMatch}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return Info{}, &ResolutionError{Query: query, Err: err}
	}

	target := query
	if !isLink(query) {
		found, err := r.search(ctx, query)
		if err != nil {
			return Info{}, &ResolutionError{Query: query, Err: err}
		}

		target = found
	}

	r.log.WithFields(logrus.Fields{
		"query":  query,
		"target": target,
	}).Debug("Fetching video")

	video, err := r.client.GetVideoContext(ctx, target)
	if err != nil {
		return Info{}, &ResolutionError{Query: target, Err: err}
	}

	formats := video.Formats.Type("audio")
	if len(formats) == 0 {
		formats = video.Formats.WithAudioChannels()
	}

	if len(formats) == 0 {
		return Info{}, &ResolutionError{Query: target, Err: ErrNoMatch}
	}

	formats.Sort()

	streamURL, err := r.client.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return Info{}, &ResolutionError{Query: target, Err: fmt.Errorf("failed to get stream url: %w", err)}
	}

	return infoFromVideo(r.baseURL, video, streamURL), nil
}

// search returns the watch URL of the first result for query.
func (r *YouTubeResolver) search(ctx context.Context, query string) (string, error) {
	searchURL := fmt.Sprintf("%s/results?search_query=%s", r.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search failed with status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read search results: %w", err)
	}

	match := watchIDPattern.FindSubmatch(body)
	if match == nil {
		return "", ErrNoMatch
	}

	return fmt.Sprintf("%s/watch?v=%s", r.baseURL, match[1]), nil
}

func infoFromVideo(baseURL string, video *youtube.Video, streamURL string) Info {
	info := Info{
		MediaRef:   streamURL,
		Title:      video.Title,
		Uploader:   video.Author,
		Duration:   video.Duration,
		WebpageURL: fmt.Sprintf("%s/watch?v=%s", baseURL, video.ID),
		ViewCount:  video.Views,
	}

	if video.ChannelID != "" {
		info.UploaderURL = fmt.Sprintf("%s/channel/%s", baseURL, video.ChannelID)
	}

	// Thumbnails are ordered smallest first.
	if n := len(video.Thumbnails); n > 0 {
		info.ThumbnailURL = video.Thumbnails[n-1].URL
	}

	return info
}

func isLink(query string) bool {
	u, err := url.Parse(query)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
