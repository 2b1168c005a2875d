package player

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/samcm/discord-jukebox/internal/media"
)

const waitTimeout = 2 * time.Second

type fakeSink struct {
	mu         sync.Mutex
	onComplete func(error)
	playErr    error
	volumes    []float64
	stops      int
	paused     bool

	plays chan string
}

func newFakeSink() *fakeSink {
	return &fakeSink{plays: make(chan string, 32)}
}

func (s *fakeSink) Play(ref string, onComplete func(error)) error {
	s.mu.Lock()
	if s.playErr != nil {
		err := s.playErr
		s.mu.Unlock()

		return err
	}

	s.onComplete = onComplete
	s.mu.Unlock()

	s.plays <- ref

	return nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()

	s.finish(nil)
}

// finish ends the current stream the way a backend would.
func (s *fakeSink) finish(err error) {
	s.mu.Lock()
	cb := s.onComplete
	s.onComplete = nil
	s.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volumes = append(s.volumes, v)
}

func (s *fakeSink) lastVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.volumes) == 0 {
		return -1
	}

	return s.volumes[len(s.volumes)-1]
}

func (s *fakeSink) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stops
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = true
}

func (s *fakeSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = false
}

func (s *fakeSink) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paused
}

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

func (s *fakeSink) assertNoPlay(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case ref := <-s.plays:
		t.Fatalf("unexpected play of %q", ref)
	case <-time.After(d):
	}
}

type failure struct {
	song Song
	err  error
}

type fakeTransport struct {
	mu     sync.Mutex
	leaves int

	nowPlaying chan Song
	failures   chan failure
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		nowPlaying: make(chan Song, 32),
		failures:   make(chan failure, 32),
	}
}

func (f *fakeTransport) NowPlaying(_ string, song Song) {
	f.nowPlaying <- song
}

func (f *fakeTransport) PlaybackFailed(_ string, song Song, err error) {
	f.failures <- failure{song: song, err: err}
}

func (f *fakeTransport) LeaveVoice(_ string, _ Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.leaves++

	return nil
}

func (f *fakeTransport) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.leaves
}

func (f *fakeTransport) waitFailure(t *testing.T) failure {
	t.Helper()

	select {
	case fl := <-f.failures:
		return fl
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for failure report")
		return failure{}
	}
}

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func song(title, requester string) Song {
	return NewSong(media.Info{
		MediaRef: "ref-" + title,
		Title:    title,
	}, requester, "text-channel")
}
