// Package config handles loading and validation of application configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Player    PlayerConfig    `yaml:"player"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	TeamSpeak TeamSpeakConfig `yaml:"teamspeak"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token      string `yaml:"token" env:"DISCORD_TOKEN"`
	GuildID    string `yaml:"guild_id" env:"DISCORD_GUILD_ID"` // Register commands in one guild only
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
}

// PlayerConfig holds per-guild playback settings.
type PlayerConfig struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SkipVotesRequired int           `yaml:"skip_votes_required"`
	DefaultVolume     float64       `yaml:"default_volume"`
	QueuePageSize     int           `yaml:"queue_page_size"`
}

// ResolverConfig holds media lookup settings.
type ResolverConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"` // 0 disables throttling
	Timeout           time.Duration `yaml:"timeout"`
}

// TeamSpeakConfig holds the optional now playing mirror settings.
type TeamSpeakConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host" env:"TEAMSPEAK_HOST"`
	QueryPort       int           `yaml:"query_port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password" env:"TEAMSPEAK_PASSWORD"`
	ServerID        int           `yaml:"server_id"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			FFmpegPath: "ffmpeg",
		},
		Player: PlayerConfig{
			IdleTimeout:       3 * time.Minute,
			SkipVotesRequired: 3,
			DefaultVolume:     0.5,
			QueuePageSize:     10,
		},
		Resolver: ResolverConfig{
			RequestsPerMinute: 30,
			Timeout:           15 * time.Second,
		},
		TeamSpeak: TeamSpeakConfig{
			QueryPort:       10011,
			Username:        "serveradmin",
			ServerID:        1,
			RefreshInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path, applies a .env file from the
// working directory and environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv exports the variables in file. A missing file is not an error.
func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", file, err)
	}

	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}

	if c.Player.IdleTimeout < time.Second {
		return fmt.Errorf("player.idle_timeout must be at least 1s")
	}

	if c.Player.SkipVotesRequired < 1 {
		return fmt.Errorf("player.skip_votes_required must be at least 1")
	}

	if c.Player.DefaultVolume <= 0 || c.Player.DefaultVolume > 1 {
		return fmt.Errorf("player.default_volume must be in (0, 1]")
	}

	if c.Player.QueuePageSize < 1 || c.Player.QueuePageSize > 25 {
		return fmt.Errorf("player.queue_page_size must be between 1 and 25")
	}

	if c.Resolver.RequestsPerMinute < 0 {
		return fmt.Errorf("resolver.requests_per_minute must not be negative")
	}

	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("resolver.timeout must be positive")
	}

	if c.TeamSpeak.Enabled {
		if c.TeamSpeak.Host == "" {
			return fmt.Errorf("teamspeak.host is required when teamspeak is enabled")
		}

		if c.TeamSpeak.Password == "" {
			return fmt.Errorf("teamspeak.password is required when teamspeak is enabled")
		}

		if c.TeamSpeak.RefreshInterval < 5*time.Second {
			return fmt.Errorf("teamspeak.refresh_interval must be at least 5s")
		}
	}

	return nil
}
