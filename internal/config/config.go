package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath      string `envconfig:"DB_PATH" default:"mediafetch.db"`

	Strategy     string `envconfig:"STRATEGY" default:"inproc,ytdlp"`
	MaxParallel  int    `envconfig:"MAX_PARALLEL" default:"1"`
	Admission    string `envconfig:"ADMISSION" default:"queue"`
	JobRetention int    `envconfig:"JOB_RETENTION" default:"100"`

	YtDlpPath        string        `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	FFmpegPath       string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath      string        `envconfig:"FFPROBE_PATH" default:"ffprobe"`
	ToolProbeTimeout time.Duration `envconfig:"TOOL_PROBE_TIMEOUT" default:"5s"`
	ConvertTimeout   time.Duration `envconfig:"CONVERT_TIMEOUT" default:"30m"`

	PartialMaxAge     time.Duration `envconfig:"PARTIAL_MAX_AGE" default:"1h"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0s"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"mediafetch"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads an optional .env file, then environment variables, and
// populates the Config struct.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() error {
	var err error

	if c.DownloadDir, err = homedir.Expand(c.DownloadDir); err != nil {
		return fmt.Errorf("invalid DOWNLOAD_DIR: %w", err)
	}

	if c.DBPath, err = homedir.Expand(c.DBPath); err != nil {
		return fmt.Errorf("invalid DB_PATH: %w", err)
	}

	if _, err := c.ParsedStrategy(); err != nil {
		return fmt.Errorf("invalid STRATEGY: %w", err)
	}

	if _, err := c.ParsedAdmission(); err != nil {
		return fmt.Errorf("invalid ADMISSION: %w", err)
	}

	if c.MaxParallel < 1 {
		return errors.New("MAX_PARALLEL must be at least 1")
	}

	return nil
}

func (c *Config) ParsedStrategy() (media.Strategy, error) {
	return media.ParseStrategy(c.Strategy)
}

func (c *Config) ParsedAdmission() (downloader.Admission, error) {
	return downloader.ParseAdmission(c.Admission)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
