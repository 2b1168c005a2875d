// Package discord provides the Discord side of the jukebox: slash commands,
// announcements and voice connections.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/samcm/discord-jukebox/internal/jukebox"
	"github.com/samcm/discord-jukebox/internal/player"
)

const commandTimeout = 30 * time.Second

var errNotConnected = errors.New("not connected to Discord")

// Config holds Discord bot settings.
type Config struct {
	Token      string
	GuildID    string // Register commands in this guild only; empty registers them globally
	FFmpegPath string
}

// Service defines the Discord service interface.
type Service interface {
	jukebox.Transport
	// Bind sets the jukebox that slash commands are dispatched to. It must be
	// called before Start.
	Bind(jb jukebox.Service)
}

type service struct {
	log     logrus.FieldLogger
	cfg     Config
	jukebox jukebox.Service

	mu      sync.Mutex
	session *discordgo.Session
	sinks   map[string]*voiceSink
}

// NewService creates a new Discord service.
func NewService(log logrus.FieldLogger, cfg Config) Service {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	return &service{
		log:   log.WithField("component", "discord"),
		cfg:   cfg,
		sinks: make(map[string]*voiceSink),
	}
}

func (s *service) Bind(jb jukebox.Service) {
	s.jukebox = jb
}

// Start connects to Discord and registers the slash commands.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jukebox == nil {
		return fmt.Errorf("no jukebox bound")
	}

	session, err := discordgo.New("Bot " + s.cfg.Token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	session.AddHandler(s.onInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	s.log.WithField("user", session.State.User.Username).Info("Connected to Discord")

	commands, err := session.ApplicationCommandBulkOverwrite(session.State.User.ID, s.cfg.GuildID, commandDefinitions, discordgo.WithContext(ctx))
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to register slash commands: %w", err)
	}

	s.session = session

	s.log.WithFields(logrus.Fields{
		"commands": len(commands),
		"guild_id": s.cfg.GuildID,
	}).Info("Registered slash commands")

	return nil
}

// Stop disconnects any remaining voice connections and the session.
func (s *service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}

	for guildID, sink := range s.sinks {
		sink.Stop()
		delete(s.sinks, guildID)
	}

	s.session.RLock()
	conns := make([]*discordgo.VoiceConnection, 0, len(s.session.VoiceConnections))
	for _, vc := range s.session.VoiceConnections {
		conns = append(conns, vc)
	}
	s.session.RUnlock()

	for _, vc := range conns {
		if err := vc.Disconnect(); err != nil {
			s.log.WithError(err).WithField("guild_id", vc.GuildID).Warn("Failed to disconnect voice")
		}
	}

	if err := s.session.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close Discord session cleanly")
	}

	s.session = nil
	s.log.Info("Disconnected from Discord")

	return nil
}

func (s *service) currentSession() (*discordgo.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errNotConnected
	}

	return s.session, nil
}

// JoinVoice connects to a voice channel, moving the guild's existing
// connection if there is one.
func (s *service) JoinVoice(ctx context.Context, guildID, channelID string) (player.Sink, error) {
	session, err := s.currentSession()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel %s: %w", channelID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sink, ok := s.sinks[guildID]; ok {
		return sink, nil
	}

	sink := newVoiceSink(s.log.WithField("guild_id", guildID), s.cfg.FFmpegPath, vc.OpusSend, vc.Speaking)
	s.sinks[guildID] = sink

	s.log.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Info("Joined voice channel")

	return sink, nil
}

// LeaveVoice disconnects the guild's voice connection.
func (s *service) LeaveVoice(guildID string, _ player.Sink) error {
	s.mu.Lock()
	delete(s.sinks, guildID)
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return nil
	}

	session.RLock()
	vc, ok := session.VoiceConnections[guildID]
	session.RUnlock()

	if !ok {
		return nil
	}

	if err := vc.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect voice: %w", err)
	}

	s.log.WithField("guild_id", guildID).Info("Left voice channel")

	return nil
}

// VoiceChannel returns the channel of the guild's voice connection.
func (s *service) VoiceChannel(guildID string) (string, bool) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return "", false
	}

	session.RLock()
	vc, ok := session.VoiceConnections[guildID]
	session.RUnlock()

	if !ok {
		return "", false
	}

	vc.RLock()
	defer vc.RUnlock()

	return vc.ChannelID, vc.ChannelID != ""
}

// AnnounceNowPlaying posts the now playing embed to the channel the song was
// requested from.
func (s *service) AnnounceNowPlaying(ctx context.Context, _ string, song player.Song) error {
	session, err := s.currentSession()
	if err != nil {
		return err
	}

	if _, err := session.ChannelMessageSendEmbed(song.ChannelID, nowPlayingEmbed(song), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send now playing message: %w", err)
	}

	return nil
}

// AnnouncePlaybackFailed tells the requesting channel that a song failed.
func (s *service) AnnouncePlaybackFailed(ctx context.Context, _ string, song player.Song, cause error) error {
	session, err := s.currentSession()
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Failed to play **%s**: %v", song.Title(), cause)

	if _, err := session.ChannelMessageSend(song.ChannelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send failure message: %w", err)
	}

	return nil
}

func (s *service) onInteraction(session *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	log := s.log.WithFields(logrus.Fields{
		"command":  data.Name,
		"guild_id": i.GuildID,
	})

	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		err := session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "This command can't be used in DM channels.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		if err != nil {
			log.WithError(err).Warn("Failed to respond to interaction")
		}

		return
	}

	// Resolving a song can take longer than the initial response window.
	if err := session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		log.WithError(err).Warn("Failed to acknowledge interaction")
		return
	}

	inv := invocation{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		UserID:    i.Member.User.ID,
		Options:   make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options)),
	}

	for _, opt := range data.Options {
		inv.Options[opt.Name] = opt
	}

	if vs, err := session.State.VoiceState(i.GuildID, inv.UserID); err == nil {
		inv.VoiceChannelID = vs.ChannelID
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	r, err := dispatch(ctx, s.jukebox, data.Name, inv)
	if err != nil {
		log.WithError(err).Debug("Command failed")
	}

	edit := &discordgo.WebhookEdit{Content: &r.Content}
	if r.Embed != nil {
		edit.Embeds = &[]*discordgo.MessageEmbed{r.Embed}
	}

	if _, err := session.InteractionResponseEdit(i.Interaction, edit, discordgo.WithContext(ctx)); err != nil {
		log.WithError(err).Warn("Failed to send command response")
	}
}
