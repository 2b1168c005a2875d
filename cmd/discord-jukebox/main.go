// Package main provides the entry point for discord-jukebox.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/samcm/discord-jukebox/internal/config"
	"github.com/samcm/discord-jukebox/internal/discord"
	"github.com/samcm/discord-jukebox/internal/jukebox"
	"github.com/samcm/discord-jukebox/internal/media"
	"github.com/samcm/discord-jukebox/internal/player"
	"github.com/samcm/discord-jukebox/internal/teamspeak"
)

var (
	configPath   string
	resolveQuery string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "discord-jukebox",
	Short: "Play music in Discord voice channels",
	Long:  "A Discord music bot with a per-guild queue, skip voting, looping and an optional TeamSpeak now playing mirror.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (required)")
	rootCmd.Flags().StringVar(&resolveQuery, "resolve", "", "Resolve a query and print what would be enqueued, without connecting to Discord")

	rootCmd.MarkFlagRequired("config")
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	resolver := media.NewYouTubeResolver(log, media.Config{
		RequestsPerMinute: cfg.Resolver.RequestsPerMinute,
		Timeout:           cfg.Resolver.Timeout,
	})

	if resolveQuery != "" {
		return runResolve(cmd.Context(), log, resolver, resolveQuery)
	}

	dcService := discord.NewService(log, discord.Config{
		Token:      cfg.Discord.Token,
		GuildID:    cfg.Discord.GuildID,
		FFmpegPath: cfg.Discord.FFmpegPath,
	})

	var mirrors []jukebox.Mirror

	if cfg.TeamSpeak.Enabled {
		mirrors = append(mirrors, teamspeak.NewService(log, teamspeak.Config{
			Host:            cfg.TeamSpeak.Host,
			QueryPort:       cfg.TeamSpeak.QueryPort,
			Username:        cfg.TeamSpeak.Username,
			Password:        cfg.TeamSpeak.Password,
			ServerID:        cfg.TeamSpeak.ServerID,
			RefreshInterval: cfg.TeamSpeak.RefreshInterval,
		}))
	}

	jbService := jukebox.NewService(log, jukebox.Config{
		Player: player.Config{
			IdleTimeout:       cfg.Player.IdleTimeout,
			SkipVotesRequired: cfg.Player.SkipVotesRequired,
			DefaultVolume:     cfg.Player.DefaultVolume,
		},
		PageSize: cfg.Player.QueuePageSize,
	}, resolver, dcService, mirrors...)

	dcService.Bind(jbService)

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("Received shutdown signal")
		cancel()
	}()

	if err := jbService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start jukebox: %w", err)
	}

	<-ctx.Done()

	if err := jbService.Stop(); err != nil {
		log.WithError(err).Warn("Error stopping jukebox")
	}

	log.Info("Shutdown complete")

	return nil
}

// runResolve resolves query and prints what would be enqueued.
func runResolve(ctx context.Context, log logrus.FieldLogger, resolver media.Resolver, query string) error {
	log.WithField("query", query).Info("Resolving query")

	info, err := resolver.Resolve(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to resolve: %w", err)
	}

	fmt.Println()
	fmt.Print(renderInfo(info))
	fmt.Println()

	return nil
}

const boxWidth = 62

// renderInfo draws info in a box the width of a terminal line.
func renderInfo(info media.Info) string {
	var b strings.Builder

	border := strings.Repeat("═", boxWidth)

	fmt.Fprintf(&b, "╔%s╗\n", border)
	b.WriteString(boxLine(center(truncate(info.Title, boxWidth-4), boxWidth)))
	fmt.Fprintf(&b, "╠%s╣\n", border)

	rows := [][2]string{
		{"Uploader", info.Uploader},
		{"Duration", media.FormatDuration(info.Duration)},
		{"URL", info.WebpageURL},
	}

	if info.ViewCount > 0 {
		rows = append(rows, [2]string{"Views", fmt.Sprint(info.ViewCount)})
	}

	for _, row := range rows {
		if row[1] == "" {
			continue
		}

		b.WriteString(boxLine(truncate(fmt.Sprintf("  %s: %s", row[0], row[1]), boxWidth)))
	}

	fmt.Fprintf(&b, "╚%s╝\n", border)

	return b.String()
}

func boxLine(content string) string {
	pad := boxWidth - utf8.RuneCountInString(content)
	if pad < 0 {
		pad = 0
	}

	return fmt.Sprintf("║%s%s║\n", content, strings.Repeat(" ", pad))
}

func center(s string, width int) string {
	padding := (width - utf8.RuneCountInString(s)) / 2
	if padding < 0 {
		padding = 0
	}

	return strings.Repeat(" ", padding) + s
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}

	r := []rune(s)

	return string(r[:max-3]) + "..."
}
