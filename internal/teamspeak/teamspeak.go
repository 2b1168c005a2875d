// Package teamspeak mirrors jukebox announcements into a TeamSpeak server
// chat over ServerQuery.
package teamspeak

import (
	"context"
	"fmt"
	"sync"
	"time"

	ts3 "github.com/multiplay/go-ts3"
	"github.com/sirupsen/logrus"

	"github.com/samcm/discord-jukebox/internal/player"
)

// targetModeServer addresses sendtextmessage to the virtual server chat.
const targetModeServer = 3

// Config holds TeamSpeak connection settings.
type Config struct {
	Host            string
	QueryPort       int
	Username        string
	Password        string
	ServerID        int
	RefreshInterval time.Duration
}

// Service defines the TeamSpeak mirror interface.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	AnnounceNowPlaying(ctx context.Context, guildID string, song player.Song) error
	AnnouncePlaybackFailed(ctx context.Context, guildID string, song player.Song, err error) error
}

type service struct {
	log    logrus.FieldLogger
	cfg    Config
	client *ts3.Client
	mu     sync.Mutex

	audience *Audience
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewService creates a new TeamSpeak mirror.
func NewService(log logrus.FieldLogger, cfg Config) Service {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}

	return &service{
		log: log.WithField("component", "teamspeak"),
		cfg: cfg,
	}
}

// Start connects to the TeamSpeak server and starts tracking its audience.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.QueryPort)
	s.log.WithField("address", addr).Info("Connecting to TeamSpeak server")

	client, err := ts3.NewClient(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to TeamSpeak: %w", err)
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password); err != nil {
		client.Close()
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := client.Use(s.cfg.ServerID); err != nil {
		client.Close()
		return fmt.Errorf("failed to select virtual server %d: %w", s.cfg.ServerID, err)
	}

	s.client = client
	s.done = make(chan struct{})
	s.log.Info("Connected to TeamSpeak server")

	if err := s.refreshLocked(); err != nil {
		s.log.WithError(err).Warn("Initial audience refresh failed")
	}

	s.wg.Add(1)

	go s.loop(ctx, s.done)

	return nil
}

// Stop stops the refresh loop and disconnects from the TeamSpeak server.
func (s *service) Stop() error {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		close(done)
		s.wg.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
		s.audience = nil
		s.log.Info("Disconnected from TeamSpeak server")
	}

	return nil
}

// loop periodically refreshes the audience, which also keeps the idle
// ServerQuery session alive.
func (s *service) loop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.refreshLocked()
			s.mu.Unlock()

			if err != nil {
				s.log.WithError(err).Warn("Audience refresh failed")
			}
		}
	}
}

func (s *service) refreshLocked() error {
	if s.client == nil {
		return fmt.Errorf("not connected to TeamSpeak server")
	}

	server, err := s.client.Server.Info()
	if err != nil {
		return fmt.Errorf("failed to get server info: %w", err)
	}

	clients, err := s.client.Server.ClientList()
	if err != nil {
		return fmt.Errorf("failed to get client list: %w", err)
	}

	members := make([]member, 0, len(clients))
	for _, cl := range clients {
		members = append(members, member{Nickname: cl.Nickname, Query: cl.Type == 1})
	}

	audience := newAudience(server.Name, members)
	s.audience = &audience

	s.log.WithFields(logrus.Fields{
		"server":    audience.ServerName,
		"listeners": audience.Listeners(),
	}).Debug("Refreshed audience")

	return nil
}

// AnnounceNowPlaying posts the song to the server chat.
func (s *service) AnnounceNowPlaying(_ context.Context, guildID string, song player.Song) error {
	return s.send(guildID, nowPlayingMessage(song))
}

// AnnouncePlaybackFailed posts a failed song to the server chat.
func (s *service) AnnouncePlaybackFailed(_ context.Context, guildID string, song player.Song, _ error) error {
	return s.send(guildID, playbackFailedMessage(song))
}

func (s *service) send(guildID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return fmt.Errorf("not connected to TeamSpeak server")
	}

	if s.audience != nil && s.audience.Listeners() == 0 {
		s.log.WithField("guild_id", guildID).Debug("Nobody online, skipping announcement")
		return nil
	}

	cmd := ts3.NewCmd("sendtextmessage").WithArgs(
		ts3.NewArg("targetmode", targetModeServer),
		ts3.NewArg("target", s.cfg.ServerID),
		ts3.NewArg("msg", msg),
	)

	if _, err := s.client.ExecCmd(cmd); err != nil {
		return fmt.Errorf("failed to send text message: %w", err)
	}

	return nil
}
