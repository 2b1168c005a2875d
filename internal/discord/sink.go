package discord

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameSize     = 960 // 20ms at 48kHz
	maxPacketSize = 1000
)

var errAlreadyPlaying = errors.New("sink is already playing")

// frameEncoder encodes one PCM frame into an opus packet.
type frameEncoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

// voiceSink streams media into a guild's voice connection through ffmpeg.
type voiceSink struct {
	log        logrus.FieldLogger
	ffmpegPath string
	frames     chan<- []byte
	speaking   func(bool) error
	newEncoder func() (frameEncoder, error)

	volume atomic.Uint64 // math.Float64bits

	mu      sync.Mutex
	cancel  context.CancelFunc
	resumed chan struct{} // non-nil while paused
}

func newVoiceSink(log logrus.FieldLogger, ffmpegPath string, frames chan<- []byte, speaking func(bool) error) *voiceSink {
	s := &voiceSink{
		log:        log,
		ffmpegPath: ffmpegPath,
		frames:     frames,
		speaking:   speaking,
		newEncoder: func() (frameEncoder, error) {
			return gopus.NewEncoder(sampleRate, channels, gopus.Audio)
		},
	}

	s.SetVolume(1)

	return s
}

func ffmpegArgs(ref string) []string {
	args := []string{}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}

	return append(args,
		"-i", ref,
		"-vn",
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		"-loglevel", "error",
		"pipe:1",
	)
}

// Play starts streaming ref. onComplete fires once when the stream ends.
func (s *voiceSink) Play(ref string, onComplete func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errAlreadyPlaying
	}

	enc, err := s.newEncoder()
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, s.ffmpegPath, ffmpegArgs(ref)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cancel = cancel

	go s.stream(ctx, cancel, cmd, stdout, enc, onComplete)

	return nil
}

func (s *voiceSink) stream(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, stdout io.Reader, enc frameEncoder, onComplete func(error)) {
	if err := s.speaking(true); err != nil {
		s.log.WithError(err).Debug("Failed to set speaking state")
	}

	err := s.pump(ctx, bufio.NewReaderSize(stdout, 16384), enc)
	stopped := ctx.Err() != nil

	if err != nil {
		// ffmpeg may still be blocked writing to the pipe.
		cancel()
	}

	waitErr := cmd.Wait()

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	if err := s.speaking(false); err != nil {
		s.log.WithError(err).Debug("Failed to clear speaking state")
	}

	switch {
	case stopped:
		onComplete(nil)
	case err != nil:
		onComplete(err)
	case waitErr != nil:
		onComplete(fmt.Errorf("ffmpeg exited: %w", waitErr))
	default:
		onComplete(nil)
	}
}

// pump reads PCM frames from r, applies the volume, encodes and sends them
// until r is drained or ctx is cancelled.
func (s *voiceSink) pump(ctx context.Context, r io.Reader, enc frameEncoder) error {
	pcm := make([]int16, frameSize*channels)

	for {
		if err := s.waitResumed(ctx); err != nil {
			return nil
		}

		if err := binary.Read(r, binary.LittleEndian, pcm); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}

			return fmt.Errorf("failed to read from ffmpeg: %w", err)
		}

		scale(pcm, s.currentVolume())

		packet, err := enc.Encode(pcm, frameSize, maxPacketSize)
		if err != nil {
			return fmt.Errorf("failed to encode opus frame: %w", err)
		}

		select {
		case s.frames <- packet:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *voiceSink) waitResumed(ctx context.Context) error {
	s.mu.Lock()
	resumed := s.resumed
	s.mu.Unlock()

	if resumed == nil {
		return ctx.Err()
	}

	select {
	case <-resumed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scale applies volume in [0,1] to pcm in place.
func scale(pcm []int16, volume float64) {
	if volume >= 1 {
		return
	}

	for i, v := range pcm {
		pcm[i] = int16(float64(v) * volume)
	}
}

// Stop ends the current stream. Pausing does not carry over to the next one.
func (s *voiceSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	s.resumeLocked()
}

func (s *voiceSink) SetVolume(volume float64) {
	s.volume.Store(math.Float64bits(volume))
}

func (s *voiceSink) currentVolume() float64 {
	return math.Float64frombits(s.volume.Load())
}

func (s *voiceSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resumed == nil {
		s.resumed = make(chan struct{})
	}
}

func (s *voiceSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resumeLocked()
}

func (s *voiceSink) resumeLocked() {
	if s.resumed != nil {
		close(s.resumed)
		s.resumed = nil
	}
}
