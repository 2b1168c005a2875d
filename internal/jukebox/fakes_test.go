package jukebox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/samcm/discord-jukebox/internal/media"
	"github.com/samcm/discord-jukebox/internal/player"
)

const waitTimeout = 2 * time.Second

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, query string) (media.Info, error) {
	if query == "nothing" {
		return media.Info{}, &media.ResolutionError{Query: query, Err: media.ErrNoMatch}
	}

	return media.Info{MediaRef: "ref-" + query, Title: query, Uploader: "someone"}, nil
}

type fakeSink struct {
	mu         sync.Mutex
	onComplete func(error)
	volume     float64

	plays chan string
}

func (s *fakeSink) Play(ref string, onComplete func(error)) error {
	s.mu.Lock()
	s.onComplete = onComplete
	s.mu.Unlock()

	s.plays <- ref

	return nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	cb := s.onComplete
	s.onComplete = nil
	s.mu.Unlock()

	if cb != nil {
		cb(nil)
	}
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volume = v
}

func (s *fakeSink) currentVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.volume
}

func (s *fakeSink) Pause()  {}
func (s *fakeSink) Resume() {}

func (s *fakeSink) waitPlay(t *testing.T) string {
	t.Helper()

	select {
	case ref := <-s.plays:
		return ref
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for play")
		return ""
	}
}

// recorder collects announcements.
type recorder struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error

	nowPlaying chan string
	failures   chan string
}

func newRecorder() *recorder {
	return &recorder{
		nowPlaying: make(chan string, 64),
		failures:   make(chan string, 64),
	}
}

func (r *recorder) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startErr != nil {
		return r.startErr
	}

	r.started = true

	return nil
}

func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true

	return nil
}

func (r *recorder) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopped
}

func (r *recorder) AnnounceNowPlaying(_ context.Context, _ string, song player.Song) error {
	r.nowPlaying <- song.Title()
	return nil
}

func (r *recorder) AnnouncePlaybackFailed(_ context.Context, _ string, song player.Song, _ error) error {
	r.failures <- song.Title()
	return nil
}

func (r *recorder) waitNowPlaying(t *testing.T) string {
	t.Helper()

	select {
	case title := <-r.nowPlaying:
		return title
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for now playing announcement")
		return ""
	}
}

type fakeTransport struct {
	*recorder

	mu       sync.Mutex
	sinks    map[string]*fakeSink
	channels map[string]string
	joins    int
	leaves   int
	joinHook func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		recorder: newRecorder(),
		sinks:    make(map[string]*fakeSink),
		channels: make(map[string]string),
	}
}

func (f *fakeTransport) JoinVoice(_ context.Context, guildID, channelID string) (player.Sink, error) {
	if channelID == "broken" {
		return nil, errors.New("voice handshake failed")
	}

	f.mu.Lock()
	hook := f.joinHook
	f.joinHook = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.joins++
	f.channels[guildID] = channelID

	sink, ok := f.sinks[guildID]
	if !ok {
		sink = &fakeSink{plays: make(chan string, 64)}
		f.sinks[guildID] = sink
	}

	return sink, nil
}

func (f *fakeTransport) LeaveVoice(guildID string, _ player.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.leaves++
	delete(f.sinks, guildID)
	delete(f.channels, guildID)

	return nil
}

func (f *fakeTransport) VoiceChannel(guildID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[guildID]

	return ch, ok
}

// onNextJoin runs hook inside the next JoinVoice call.
func (f *fakeTransport) onNextJoin(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.joinHook = hook
}

func (f *fakeTransport) sink(guildID string) *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sinks[guildID]
}

func (f *fakeTransport) counts() (joins, leaves int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.joins, f.leaves
}

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}
