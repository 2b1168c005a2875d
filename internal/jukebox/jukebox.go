// Package jukebox is the command layer between the chat transport and the
// per-guild players: it resolves requests, enforces usage rules and fans
// playback events out to announcers.
package jukebox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samcm/discord-jukebox/internal/media"
	"github.com/samcm/discord-jukebox/internal/player"
)

const (
	DefaultPageSize = 10
	announceTimeout = 10 * time.Second
)

var (
	// ErrInvalidVolume is returned for a volume outside 0..100.
	ErrInvalidVolume = errors.New("volume must be between 0 and 100")
	// ErrEmptyQueue is returned by queue operations on an empty queue.
	ErrEmptyQueue = errors.New("empty queue")
	// ErrNoVoiceChannel is returned when the requester is not in voice.
	ErrNoVoiceChannel = errors.New("you are not connected to any voice channel")
	// ErrOtherChannel is returned when the bot plays in a channel the requester is not in.
	ErrOtherChannel = errors.New("bot is already in a voice channel")
)

// Config holds jukebox settings.
type Config struct {
	Player   player.Config
	PageSize int
}

// Announcer publishes playback events to users.
type Announcer interface {
	AnnounceNowPlaying(ctx context.Context, guildID string, song player.Song) error
	AnnouncePlaybackFailed(ctx context.Context, guildID string, song player.Song, err error) error
}

// VoiceConnector joins and leaves voice channels.
type VoiceConnector interface {
	// JoinVoice connects to channelID. Joining again in the same guild moves
	// the existing connection and returns the same sink.
	JoinVoice(ctx context.Context, guildID, channelID string) (player.Sink, error)
	LeaveVoice(guildID string, sink player.Sink) error
	// VoiceChannel returns the channel the bot is connected to in guildID.
	VoiceChannel(guildID string) (string, bool)
}

// Transport is the chat service the jukebox is driven from.
type Transport interface {
	Announcer
	VoiceConnector
	Start(ctx context.Context) error
	Stop() error
}

// Mirror is an optional extra announcement target. Mirror failures never
// affect playback.
type Mirror interface {
	Announcer
	Start(ctx context.Context) error
	Stop() error
}

// Request is a user's request to enqueue a song.
type Request struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string // Voice channel of the requester, empty if none
	RequesterID    string
	Query          string
}

// Enqueued describes a queued song.
type Enqueued struct {
	Song     player.Song
	Position int
}

// QueuePage is one page of a guild's pending songs.
type QueuePage struct {
	Songs  []player.Song
	Offset int // Queue index of Songs[0]
	Page   int
	Pages  int
	Total  int
}

// Service defines the jukebox operations exposed to the chat layer.
type Service interface {
	Start(ctx context.Context) error
	Stop() error

	Join(ctx context.Context, guildID, channelID string) error
	Enqueue(ctx context.Context, req Request) (Enqueued, error)
	Skip(guildID, voterID string) (player.SkipResult, error)
	SetVolume(guildID string, percent int) error
	ToggleLoop(guildID string) (bool, error)
	Shuffle(guildID string) error
	RemoveAt(guildID string, position int) (player.Song, error)
	ListQueue(guildID string, page int) (QueuePage, error)
	Halt(guildID string) (bool, error)
	Leave(guildID string) error
	Current(guildID string) (player.Song, error)
	Pause(guildID string) error
	Resume(guildID string) error
}

type service struct {
	log       logrus.FieldLogger
	cfg       Config
	resolver  media.Resolver
	transport Transport
	mirrors   []Mirror
	registry  *player.Registry

	mu     sync.RWMutex
	active []Mirror
}

// NewService creates a new jukebox service.
func NewService(log logrus.FieldLogger, cfg Config, resolver media.Resolver, transport Transport, mirrors ...Mirror) Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	s := &service{
		log:       log.WithField("component", "jukebox"),
		cfg:       cfg,
		resolver:  resolver,
		transport: transport,
		mirrors:   mirrors,
	}

	s.registry = player.NewRegistry(log, cfg.Player, s)

	return s
}

// Start connects the chat transport and any mirrors.
func (s *service) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chat transport: %w", err)
	}

	active := make([]Mirror, 0, len(s.mirrors))

	for _, m := range s.mirrors {
		if err := m.Start(ctx); err != nil {
			s.log.WithError(err).Warn("Failed to start announcement mirror, continuing without it")
			continue
		}

		active = append(active, m)
	}

	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	s.log.WithField("mirrors", len(active)).Info("Jukebox started")

	return nil
}

// Stop tears down every guild's player, then disconnects services.
func (s *service) Stop() error {
	if err := s.registry.ShutdownAll(); err != nil {
		s.log.WithError(err).Warn("Failed to stop all voice states cleanly")
	}

	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	for _, m := range active {
		if err := m.Stop(); err != nil {
			s.log.WithError(err).Warn("Failed to stop announcement mirror")
		}
	}

	if err := s.transport.Stop(); err != nil {
		return fmt.Errorf("failed to stop chat transport: %w", err)
	}

	s.log.Info("Jukebox stopped")

	return nil
}

// Join connects the guild's player to channelID, moving it if already connected.
func (s *service) Join(ctx context.Context, guildID, channelID string) error {
	if channelID == "" {
		return ErrNoVoiceChannel
	}

	return s.join(ctx, s.registry.GetOrCreate(guildID), channelID)
}

func (s *service) join(ctx context.Context, v *player.VoiceState, channelID string) error {
	sink, err := s.transport.JoinVoice(ctx, v.GuildID(), channelID)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}

	if err := v.Attach(sink); err != nil && !errors.Is(err, player.ErrAlreadyConnected) {
		return fmt.Errorf("failed to attach voice connection: %w", err)
	}

	return nil
}

// Enqueue resolves req.Query and queues it, joining the requester's voice
// channel first if needed.
func (s *service) Enqueue(ctx context.Context, req Request) (Enqueued, error) {
	if req.VoiceChannelID == "" {
		return Enqueued{}, ErrNoVoiceChannel
	}

	info, err := s.resolver.Resolve(ctx, req.Query)
	if err != nil {
		return Enqueued{}, err
	}

	song := player.NewSong(info, req.RequesterID, req.TextChannelID)

	var (
		v   *player.VoiceState
		pos int
	)

	// A state that idled out between lookup and use is replaced once, after
	// it has left voice.
	for attempt := 0; ; attempt++ {
		v, pos, err = s.enqueue(ctx, song, req)
		if err == nil {
			break
		}

		if !errors.Is(err, player.ErrStopped) || attempt > 0 {
			return Enqueued{}, err
		}

		select {
		case <-v.Done():
		case <-ctx.Done():
			return Enqueued{}, ctx.Err()
		}
	}

	s.log.WithFields(logrus.Fields{
		"guild_id": req.GuildID,
		"title":    info.Title,
		"position": pos,
	}).Info("Enqueued song")

	return Enqueued{Song: song, Position: pos}, nil
}

func (s *service) enqueue(ctx context.Context, song player.Song, req Request) (*player.VoiceState, int, error) {
	v := s.registry.GetOrCreate(req.GuildID)

	if v.Connected() {
		if ch, ok := s.transport.VoiceChannel(req.GuildID); ok && ch != req.VoiceChannelID {
			return v, 0, ErrOtherChannel
		}
	} else if err := s.join(ctx, v, req.VoiceChannelID); err != nil {
		return v, 0, err
	}

	pos, err := v.Enqueue(song)
	if err != nil {
		return v, 0, fmt.Errorf("failed to enqueue: %w", err)
	}

	return v, pos, nil
}

// Skip casts voterID's skip vote.
func (s *service) Skip(guildID, voterID string) (player.SkipResult, error) {
	v, ok := s.registry.Get(guildID)
	if !ok {
		return player.SkipResult{}, player.ErrNotPlaying
	}

	return v.VoteSkip(voterID)
}

// SetVolume sets the playing guild's volume from a percentage.
func (s *service) SetVolume(guildID string, percent int) error {
	v, err := s.playing(guildID)
	if err != nil {
		return err
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidVolume
	}

	v.SetVolume(float64(percent) / 100)

	return nil
}

// ToggleLoop flips loop mode for the playing song.
func (s *service) ToggleLoop(guildID string) (bool, error) {
	v, err := s.playing(guildID)
	if err != nil {
		return false, err
	}

	return v.ToggleLoop(), nil
}

// Shuffle shuffles the guild's queue.
func (s *service) Shuffle(guildID string) error {
	v, err := s.queued(guildID)
	if err != nil {
		return err
	}

	v.Queue().Shuffle()

	return nil
}

// RemoveAt removes the song at the 1-based queue position.
func (s *service) RemoveAt(guildID string, position int) (player.Song, error) {
	v, err := s.queued(guildID)
	if err != nil {
		return player.Song{}, err
	}

	return v.Queue().RemoveAt(position - 1)
}

// ListQueue returns the 1-based page of the guild's queue.
func (s *service) ListQueue(guildID string, page int) (QueuePage, error) {
	v, err := s.queued(guildID)
	if err != nil {
		return QueuePage{}, err
	}

	total := v.Queue().Len()
	pages := (total + s.cfg.PageSize - 1) / s.cfg.PageSize
	page = min(max(page, 1), max(pages, 1))

	start := (page - 1) * s.cfg.PageSize

	return QueuePage{
		Songs:  v.Queue().Snapshot(start, start+s.cfg.PageSize),
		Offset: start,
		Page:   page,
		Pages:  pages,
		Total:  total,
	}, nil
}

// Halt clears the queue and stops the current song, staying connected.
func (s *service) Halt(guildID string) (bool, error) {
	v, ok := s.registry.Get(guildID)
	if !ok {
		return false, player.ErrNotConnected
	}

	return v.Halt(), nil
}

// Leave stops the guild's player and disconnects it.
func (s *service) Leave(guildID string) error {
	v, ok := s.registry.Get(guildID)
	if !ok || !v.Connected() {
		return player.ErrNotConnected
	}

	return s.registry.Remove(guildID)
}

// Current returns the playing song.
func (s *service) Current(guildID string) (player.Song, error) {
	v, err := s.playing(guildID)
	if err != nil {
		return player.Song{}, err
	}

	song, ok := v.Current()
	if !ok {
		return player.Song{}, player.ErrNotPlaying
	}

	return song, nil
}

func (s *service) Pause(guildID string) error {
	v, ok := s.registry.Get(guildID)
	if !ok {
		return player.ErrNotPlaying
	}

	return v.Pause()
}

func (s *service) Resume(guildID string) error {
	v, ok := s.registry.Get(guildID)
	if !ok {
		return player.ErrNotPlaying
	}

	return v.Resume()
}

func (s *service) playing(guildID string) (*player.VoiceState, error) {
	v, ok := s.registry.Get(guildID)
	if !ok || !v.IsPlaying() {
		return nil, player.ErrNotPlaying
	}

	return v, nil
}

func (s *service) queued(guildID string) (*player.VoiceState, error) {
	v, ok := s.registry.Get(guildID)
	if !ok || v.Queue().Len() == 0 {
		return nil, ErrEmptyQueue
	}

	return v, nil
}
