// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/longrender/internal/orchestrator"
)

// Static errors for configuration validation.
var (
	// ErrRenderAPIURLRequired is returned when RENDER_API_URL is not set.
	ErrRenderAPIURLRequired = errors.New("config: RENDER_API_URL is required")
	// ErrRenderAPIKeyRequired is returned when RENDER_API_KEY is not set.
	ErrRenderAPIKeyRequired = errors.New("config: RENDER_API_KEY is required")
	// ErrInvalidConcurrency is returned when a concurrency setting is below 1.
	ErrInvalidConcurrency = errors.New("config: concurrency must be at least 1")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port               int      `env:"PORT, default=8080" json:"port"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`

	// Render backend settings
	RenderAPIURL     string  `env:"RENDER_API_URL, required" json:"render_api_url"`
	RenderAPIKey     string  `env:"RENDER_API_KEY, required" json:"-"` // Masked in JSON
	CompositionID    string  `env:"COMPOSITION_ID, default=main" json:"composition_id"`
	RenderCodec      string  `env:"RENDER_CODEC, default=h264" json:"render_codec"`
	SubmitRatePerSec float64 `env:"SUBMIT_RATE_PER_SEC, default=2" json:"submit_rate_per_sec"`
	SubmitBurst      int     `env:"SUBMIT_BURST, default=2" json:"submit_burst"`

	// Chunking and scheduling
	MaxChunkDurationSec float64 `env:"MAX_CHUNK_DURATION_SEC, default=120" json:"max_chunk_duration_sec"`
	ChunkConcurrency    int     `env:"CHUNK_CONCURRENCY, default=1" json:"chunk_concurrency"`
	FetchConcurrency    int     `env:"FETCH_CONCURRENCY, default=1" json:"fetch_concurrency"`
	PollIntervalMs      int     `env:"POLL_INTERVAL_MS, default=5000" json:"poll_interval_ms"`
	PollMaxAttempts     int     `env:"POLL_MAX_ATTEMPTS, default=240" json:"poll_max_attempts"`

	// Local files
	ScratchDir    string `env:"SCRATCH_DIR, default=/tmp/longrender" json:"scratch_dir"`
	PublishDir    string `env:"PUBLISH_DIR, default=/tmp/longrender/published" json:"publish_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL, default=http://localhost:8080/files" json:"public_base_url"`
	FFmpegPath    string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional Redis progress mirror
	RedisURL            string `env:"REDIS_URL" json:"-"` // May carry a password
	RedisProgressTTLSec int    `env:"REDIS_PROGRESS_TTL_SEC, default=86400" json:"redis_progress_ttl_sec"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RedisEnabled returns true if a Redis URL is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// PollInterval returns the delay between status checks of a chunk.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RedisProgressTTL returns how long progress snapshots stay in Redis.
func (c *Config) RedisProgressTTL() time.Duration {
	return time.Duration(c.RedisProgressTTLSec) * time.Second
}

// Orchestrator returns the render tuning derived from this configuration.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		MaxChunkSeconds:  c.MaxChunkDurationSec,
		ChunkConcurrency: c.ChunkConcurrency,
		FetchConcurrency: c.FetchConcurrency,
		PollInterval:     c.PollInterval(),
		PollMaxAttempts:  c.PollMaxAttempts,
		ScratchRoot:      filepath.Clean(c.ScratchDir),
	}
}

// Load reads configuration from environment variables using go-envconfig.
// Variables from the given env files (".env" when none are given) are
// applied first without overriding the process environment; missing files
// are ignored. It returns an error if required variables are not set.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "RENDER_API_URL") {
			return nil, ErrRenderAPIURLRequired
		}
		if strings.Contains(err.Error(), "RENDER_API_KEY") {
			return nil, ErrRenderAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(paths []string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks that all required configuration is present and in range.
func (c *Config) Validate() error {
	if c.RenderAPIURL == "" {
		return ErrRenderAPIURLRequired
	}
	if c.RenderAPIKey == "" {
		return ErrRenderAPIKeyRequired
	}
	if c.ChunkConcurrency < 1 || c.FetchConcurrency < 1 {
		return ErrInvalidConcurrency
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, RenderAPIURL: %s, RenderAPIKey: %s, CompositionID: %s, MaxChunkDurationSec: %g, ChunkConcurrency: %d, FetchConcurrency: %d, ScratchDir: %s, PublishDir: %s, S3Bucket: %s, S3Region: %s, Redis: %t, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.RenderAPIURL,
		mask(c.RenderAPIKey),
		c.CompositionID,
		c.MaxChunkDurationSec,
		c.ChunkConcurrency,
		c.FetchConcurrency,
		c.ScratchDir,
		c.PublishDir,
		c.S3Bucket,
		c.S3Region,
		c.RedisEnabled(),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
