package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultIdleTimeout is how long a state waits for a song before leaving voice.
	DefaultIdleTimeout = 3 * time.Minute
	// DefaultSkipVotesRequired is the number of votes that skips a song.
	DefaultSkipVotesRequired = 3
	// DefaultVolume is the volume a new state starts with.
	DefaultVolume = 0.5
)

var (
	// ErrNotPlaying is returned by operations that need a song to be playing.
	ErrNotPlaying = errors.New("nothing is playing")
	// ErrAlreadyVoted is returned when a user votes twice for the same song.
	ErrAlreadyVoted = errors.New("already voted to skip this song")
	// ErrNotConnected is returned when no sink is attached.
	ErrNotConnected = errors.New("not connected to a voice channel")
	// ErrAlreadyConnected is returned when attaching a second sink.
	ErrAlreadyConnected = errors.New("already connected to a voice channel")
	// ErrStopped is returned by a state that has stopped for good.
	ErrStopped = errors.New("voice state is stopped")
)

// State is the lifecycle state of a VoiceState.
type State int

// Lifecycle states. StateStopped is terminal.
const (
	StateWaiting State = iota
	StatePlaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds per-guild playback settings.
type Config struct {
	IdleTimeout       time.Duration
	SkipVotesRequired int
	DefaultVolume     float64
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}

	if c.SkipVotesRequired <= 0 {
		c.SkipVotesRequired = DefaultSkipVotesRequired
	}

	if c.DefaultVolume <= 0 {
		c.DefaultVolume = DefaultVolume
	}

	return c
}

// SkipResult is the outcome of a skip vote.
type SkipResult struct {
	Skipped  bool
	Votes    int
	Required int
}

// VoiceState drives playback for a single guild. One goroutine per state
// drains the queue into the attached sink until the state is stopped.
type VoiceState struct {
	log       logrus.FieldLogger
	cfg       Config
	guildID   string
	transport Transport
	queue     *SongQueue
	onStopped func(*VoiceState)

	mu        sync.Mutex
	state     State
	current   *Song
	loop      bool
	volume    float64
	skipVotes map[string]struct{}
	sink      Sink

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

// newVoiceState creates a voice state for guildID and starts its player
// goroutine. onStopped runs once the state idled out on its own.
func newVoiceState(log logrus.FieldLogger, cfg Config, guildID string, transport Transport, onStopped func(*VoiceState)) *VoiceState {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	v := &VoiceState{
		log: log.WithFields(logrus.Fields{
			"component": "player",
			"guild_id":  guildID,
		}),
		cfg:       cfg,
		guildID:   guildID,
		transport: transport,
		queue:     NewSongQueue(),
		onStopped: onStopped,
		state:     StateWaiting,
		volume:    cfg.DefaultVolume,
		skipVotes: make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go v.run()

	return v
}

// run is the player loop.
func (v *VoiceState) run() {
	defer close(v.done)

	for {
		if v.ctx.Err() != nil {
			return
		}

		song, ok := v.next()
		if !ok {
			if v.ctx.Err() != nil {
				return
			}

			v.log.WithField("timeout", v.cfg.IdleTimeout).Info("Queue idle, leaving voice")

			if err := v.release(); err != nil {
				v.log.WithError(err).Warn("Failed to release voice state")
			}

			if v.onStopped != nil {
				v.onStopped(v)
			}

			return
		}

		v.play(song)
	}
}

// next returns the song for the coming cycle: the current song while looping,
// otherwise the head of the queue.
func (v *VoiceState) next() (Song, bool) {
	v.mu.Lock()
	if v.loop && v.current != nil {
		song := *v.current
		v.mu.Unlock()

		return song, true
	}
	v.mu.Unlock()

	for {
		song, ok := v.queue.DequeueWait(v.ctx, v.cfg.IdleTimeout)
		if ok {
			v.mu.Lock()
			v.current = &song
			clear(v.skipVotes)
			v.mu.Unlock()

			return song, true
		}

		if v.ctx.Err() != nil {
			return Song{}, false
		}

		// Enqueue appends under v.mu and rejects a stopped state.
		v.mu.Lock()
		if v.queue.Len() > 0 {
			v.mu.Unlock()
			continue
		}

		v.state = StateStopped
		v.mu.Unlock()

		return Song{}, false
	}
}

// play runs one playback cycle and returns once the song completed or the
// state was stopped.
func (v *VoiceState) play(song Song) {
	completion := make(chan error, 1)
	onComplete := func(err error) {
		select {
		case completion <- err:
		default:
		}
	}

	v.mu.Lock()
	if v.state == StateStopped {
		v.mu.Unlock()
		return
	}

	if v.sink == nil {
		v.current = nil
		v.mu.Unlock()
		v.fail(song, ErrNotConnected)

		return
	}

	v.sink.SetVolume(v.volume)

	if err := v.sink.Play(song.MediaRef(), onComplete); err != nil {
		v.current = nil
		v.mu.Unlock()
		v.fail(song, err)

		return
	}

	v.state = StatePlaying
	v.mu.Unlock()

	v.log.WithField("title", song.Title()).Info("Now playing")
	v.transport.NowPlaying(v.guildID, song)

	var playErr error

	select {
	case playErr = <-completion:
	case <-v.ctx.Done():
		return
	}

	v.mu.Lock()
	if v.state == StatePlaying {
		v.state = StateWaiting
	}

	if playErr != nil {
		// A broken song is not replayed by loop mode.
		v.current = nil
	}

	clear(v.skipVotes)
	v.mu.Unlock()

	if playErr != nil {
		v.fail(song, playErr)
	}
}

func (v *VoiceState) fail(song Song, err error) {
	v.log.WithError(err).WithField("title", song.Title()).Warn("Playback failed")
	v.transport.PlaybackFailed(v.guildID, song, err)
}

// GuildID returns the guild this state plays for.
func (v *VoiceState) GuildID() string {
	return v.guildID
}

// Queue returns the pending songs.
func (v *VoiceState) Queue() *SongQueue {
	return v.queue
}

// Enqueue appends song and returns its 1-based queue position.
func (v *VoiceState) Enqueue(song Song) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateStopped {
		return 0, ErrStopped
	}

	return v.queue.Enqueue(song), nil
}

// Attach gives the state its sink. Only one sink may be attached.
func (v *VoiceState) Attach(sink Sink) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.state == StateStopped:
		return ErrStopped
	case v.sink != nil:
		return ErrAlreadyConnected
	}

	v.sink = sink

	return nil
}

// Connected reports whether a sink is attached.
func (v *VoiceState) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.sink != nil
}

// State returns the lifecycle state.
func (v *VoiceState) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.state
}

// IsPlaying reports whether a song is currently playing.
func (v *VoiceState) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.playingLocked()
}

func (v *VoiceState) playingLocked() bool {
	return v.state == StatePlaying && v.current != nil && v.sink != nil
}

// Current returns the playing song.
func (v *VoiceState) Current() (Song, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.playingLocked() {
		return Song{}, false
	}

	return *v.current, true
}

// Skip stops the current song so the next cycle starts. It reports whether
// anything was playing.
func (v *VoiceState) Skip() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.skipLocked()
}

func (v *VoiceState) skipLocked() bool {
	clear(v.skipVotes)

	if !v.playingLocked() {
		return false
	}

	// Dropping current makes the next cycle dequeue even in loop mode.
	v.current = nil
	v.sink.Stop()

	return true
}

// VoteSkip registers a skip vote from voterID. The requester of the current
// song skips immediately; anyone else adds a vote until the threshold is met.
func (v *VoiceState) VoteSkip(voterID string) (SkipResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	res := SkipResult{Required: v.cfg.SkipVotesRequired}

	if !v.playingLocked() {
		return res, ErrNotPlaying
	}

	if voterID == v.current.RequesterID {
		res.Skipped = v.skipLocked()
		return res, nil
	}

	if _, ok := v.skipVotes[voterID]; ok {
		res.Votes = len(v.skipVotes)
		return res, ErrAlreadyVoted
	}

	v.skipVotes[voterID] = struct{}{}
	res.Votes = len(v.skipVotes)

	if res.Votes >= res.Required {
		res.Skipped = v.skipLocked()
	}

	return res, nil
}

// SkipVotes returns the number of distinct skip votes for the current song.
func (v *VoiceState) SkipVotes() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.skipVotes)
}

// Halt clears the queue and stops the current song. The state keeps running.
func (v *VoiceState) Halt() bool {
	v.queue.Clear()

	return v.Skip()
}

// ToggleLoop flips loop mode and returns the new value.
func (v *VoiceState) ToggleLoop() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.loop = !v.loop

	return v.loop
}

// Loop reports whether loop mode is on.
func (v *VoiceState) Loop() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.loop
}

// SetVolume stores volume as given and applies it to the attached sink.
func (v *VoiceState) SetVolume(volume float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.volume = volume

	if v.sink != nil {
		v.sink.SetVolume(volume)
	}
}

// Volume returns the last value passed to SetVolume.
func (v *VoiceState) Volume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.volume
}

// Pause pauses the current song.
func (v *VoiceState) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.playingLocked() {
		return ErrNotPlaying
	}

	v.sink.Pause()

	return nil
}

// Resume resumes a paused song.
func (v *VoiceState) Resume() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.playingLocked() {
		return ErrNotPlaying
	}

	v.sink.Resume()

	return nil
}

// Done is closed once the player goroutine has exited.
func (v *VoiceState) Done() <-chan struct{} {
	return v.done
}

// Stop clears the queue, releases the sink and ends the player goroutine.
// It is idempotent and waits for the goroutine to exit.
func (v *VoiceState) Stop() error {
	err := v.release()
	<-v.done

	return err
}

func (v *VoiceState) release() error {
	v.releaseOnce.Do(func() {
		v.cancel()

		v.mu.Lock()
		sink := v.sink
		v.sink = nil
		v.state = StateStopped
		v.current = nil
		clear(v.skipVotes)
		v.mu.Unlock()

		v.queue.Clear()

		if sink != nil {
			sink.Stop()

			if err := v.transport.LeaveVoice(v.guildID, sink); err != nil {
				v.releaseErr = fmt.Errorf("failed to leave voice: %w", err)
			}
		}

		v.log.Info("Voice state stopped")
	})

	return v.releaseErr
}
