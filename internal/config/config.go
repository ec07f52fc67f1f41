// Package config loads the daemon configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "config.yaml"

// Config holds the application configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Dev       bool            `yaml:"dev" env:"UNICHAT_DEV"`
	Twitch    TwitchConfig    `yaml:"twitch"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Kick      KickConfig      `yaml:"kick"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Host      HostConfig      `yaml:"host"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	S3        S3Config        `yaml:"s3"`
	Uploader  UploaderConfig  `yaml:"uploader"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Health    HealthConfig    `yaml:"health"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"UNICHAT_LOG_LEVEL"`
	Format string `yaml:"format" env:"UNICHAT_LOG_FORMAT"` // text or json
}

// TwitchConfig holds Twitch-specific configuration
type TwitchConfig struct {
	URL              string        `yaml:"url" env:"UNICHAT_TWITCH_URL"`
	Transport        string        `yaml:"transport" env:"TWITCH_TRANSPORT"` // websocket or irc
	Username         string        `yaml:"username" env:"TWITCH_USERNAME"`
	OAuth            string        `yaml:"oauth" env:"TWITCH_OAUTH"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	JoinWindow       time.Duration `yaml:"join_window"`
}

type YouTubeConfig struct {
	URL         string        `yaml:"url" env:"UNICHAT_YOUTUBE_URL"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// KickConfig holds Kick configuration. Chatrooms pre-configures chatroom ids by slug for
// channels whose API lookup is blocked.
type KickConfig struct {
	URL       string         `yaml:"url" env:"UNICHAT_KICK_URL"`
	Chatrooms map[string]int `yaml:"chatrooms"`
}

type LifecycleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type HostConfig struct {
	BusBuffer int64 `yaml:"bus_buffer"`
}

// RecorderConfig holds recorder configuration
type RecorderConfig struct {
	Level           string `yaml:"level" env:"RECORDER_LEVEL"` // all, events or none
	OutputDir       string `yaml:"output_dir" env:"RECORDER_OUTPUT_DIR"`
	RotateMinutes   int    `yaml:"rotate_minutes"`
	RotateMegabytes int    `yaml:"rotate_megabytes"`
	BufferSize      int    `yaml:"buffer_size"`
	EventLogDir     string `yaml:"event_log_dir"`
	EventLogLevel   string `yaml:"event_log_level" env:"EVENT_LOG_LEVEL"` // all, unknown or errors
}

// S3Config holds S3 upload configuration
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"S3_BUCKET"`
	Region          string `yaml:"region" env:"S3_REGION"`
	RoleARN         string `yaml:"role_arn" env:"AWS_ROLE_ARN"`                  // IAM role ARN for OIDC authentication
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`         // Legacy: static credentials
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"` // Legacy: static credentials
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`                   // For S3-compatible services
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	Enabled           bool `yaml:"enabled" env:"UPLOADER_ENABLED"`
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
}

type ArchiveConfig struct {
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL"`
	MaxBatch    int           `yaml:"max_batch"`
	FlushEvery  time.Duration `yaml:"flush_every"`
	ChanBuffer  int           `yaml:"chan_buffer"`
}

type HealthConfig struct {
	Addr string `yaml:"addr" env:"HEALTH_ADDR"`
}

// Load reads path, applies .env and environment overrides, fills defaults and validates.
// A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	// .env is optional, for local development.
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Twitch.Transport == "" {
		c.Twitch.Transport = "websocket"
	}
	if c.Twitch.HandshakeTimeout == 0 {
		c.Twitch.HandshakeTimeout = 15 * time.Second
	}
	if c.Twitch.JoinWindow == 0 {
		c.Twitch.JoinWindow = 10 * time.Second
	}
	if c.YouTube.MinInterval == 0 {
		c.YouTube.MinInterval = time.Second
	}
	if c.YouTube.MaxInterval == 0 {
		c.YouTube.MaxInterval = 10 * time.Second
	}
	if c.Lifecycle.Interval == 0 {
		c.Lifecycle.Interval = 5 * time.Second
	}
	if c.Host.BusBuffer == 0 {
		c.Host.BusBuffer = 256
	}
	if c.Recorder.Level == "" {
		c.Recorder.Level = "events"
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = 100
	}
	if c.Recorder.RotateMinutes == 0 {
		c.Recorder.RotateMinutes = 60
	}
	if c.Recorder.RotateMegabytes == 0 {
		c.Recorder.RotateMegabytes = 100
	}
	if c.Recorder.OutputDir == "" {
		c.Recorder.OutputDir = "./data"
	}
	if c.Recorder.EventLogDir == "" {
		c.Recorder.EventLogDir = "./logs"
	}
	if c.Recorder.EventLogLevel == "" {
		c.Recorder.EventLogLevel = "errors"
	}
	if c.Uploader.MaxRetries == 0 {
		c.Uploader.MaxRetries = 3
	}
	if c.Archive.MaxBatch == 0 {
		c.Archive.MaxBatch = 100
	}
	if c.Archive.FlushEvery == 0 {
		c.Archive.FlushEvery = time.Second
	}
	if c.Archive.ChanBuffer == 0 {
		c.Archive.ChanBuffer = 1000
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	switch c.Twitch.Transport {
	case "websocket", "irc":
	default:
		return fmt.Errorf("twitch.transport must be websocket or irc, got %q", c.Twitch.Transport)
	}
	if c.Twitch.Transport == "irc" && c.Twitch.Username != "" && c.Twitch.OAuth == "" {
		return fmt.Errorf("twitch.oauth is required with twitch.username (or set TWITCH_OAUTH env var)")
	}
	if c.YouTube.MaxInterval < c.YouTube.MinInterval {
		return fmt.Errorf("youtube.max_interval must not be below youtube.min_interval")
	}
	switch c.Recorder.Level {
	case "all", "events", "none":
	default:
		return fmt.Errorf("recorder.level must be all, events or none, got %q", c.Recorder.Level)
	}
	switch c.Recorder.EventLogLevel {
	case "all", "unknown", "errors":
	default:
		return fmt.Errorf("recorder.event_log_level must be all, unknown or errors, got %q", c.Recorder.EventLogLevel)
	}

	if !c.Uploader.Enabled {
		return nil
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	// Either OIDC role or static credentials required
	if c.S3.RoleARN == "" && c.S3.AccessKeyID == "" {
		return fmt.Errorf("either s3.role_arn (OIDC) or s3.access_key_id (legacy) is required")
	}
	if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
		return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
	}
	return nil
}
