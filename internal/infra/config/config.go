// Package config provides configuration loading from YAML files.
package config

import (
	"net"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFrontendOrigin is the link base used when neither the config nor
// the request supplies one.
const DefaultFrontendOrigin = "http://localhost:5173"

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Session  SessionConfig           `yaml:"session"`
	Realtime RealtimeConfig          `yaml:"realtime"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
	Metrics  MetricsConfig           `yaml:"metrics"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr               string      `yaml:"addr" default:":3000"`
	PublicBaseURL      string      `yaml:"public_base_url" validate:"omitempty,url"`
	AllowedOrigins     []string    `yaml:"allowed_origins"`
	ShutdownTimeoutSec int         `yaml:"shutdown_timeout_sec" default:"10" validate:"gte=1,lte=300"`
	Hooks              HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// SessionConfig represents defaults applied to new sessions.
type SessionConfig struct {
	DefaultMaxDurationSec int    `yaml:"default_max_duration_sec" default:"120" validate:"gt=0,lte=86400"`
	SecretDigits          int    `yaml:"secret_digits" default:"4" validate:"gte=4,lte=9"`
	IDLength              int    `yaml:"id_length" default:"8" validate:"gte=4,lte=32"`
	ItemIDLength          int    `yaml:"item_id_length" default:"10" validate:"gte=6,lte=32"`
	DefaultDisplayName    string `yaml:"default_display_name" default:"Anonymous" validate:"required"`
}

// RealtimeConfig represents WebSocket channel limits.
type RealtimeConfig struct {
	OutboxSize         int `yaml:"outbox_size" default:"64" validate:"gte=1,lte=4096"`
	MaxFramesPerSecond int `yaml:"max_frames_per_second" default:"20" validate:"gte=1"`
	MaxFrameBytes      int `yaml:"max_frame_bytes" default:"16384" validate:"gte=256"`
	MaxDecodeErrors    int `yaml:"max_decode_errors" default:"3" validate:"gte=1"`
	WriteTimeoutSec    int `yaml:"write_timeout_sec" default:"10" validate:"gte=1,lte=300"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages per error code.
type MessagesConfig struct {
	DefaultError      string `yaml:"default_error" default:"Request failed"`
	InvalidCredential string `yaml:"invalid_credential" default:"Invalid PIN"`
	Forbidden         string `yaml:"forbidden" default:"Moderator only"`
	QueueLocked       string `yaml:"queue_locked" default:"Queue is locked"`
	NotFound          string `yaml:"not_found" default:"Item not found"`
	NotJoined         string `yaml:"not_joined" default:"Not in a session"`
	TopicTooLong      string `yaml:"topic_too_long" default:"Topic is too long"`
	PendingEntry      string `yaml:"pending_entry" default:"You are already in the queue"`
}

// MetricsConfig represents Prometheus endpoint configuration.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path" default:"/metrics" validate:"startswith=/"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var cfg Config
	cfg.overrideFromEnv()
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = net.JoinHostPort("", v)
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		c.Server.PublicBaseURL = v
	}
}

// GetMessage returns the user-facing message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "invalid_credential":
		return c.Messages.InvalidCredential
	case "forbidden":
		return c.Messages.Forbidden
	case "queue_locked":
		return c.Messages.QueueLocked
	case "not_found":
		return c.Messages.NotFound
	case "not_joined":
		return c.Messages.NotJoined
	case "topic_too_long":
		return c.Messages.TopicTooLong
	case "pending_entry":
		return c.Messages.PendingEntry
	default:
		return c.Messages.DefaultError
	}
}

// BaseURL returns the origin used to build shareable links.
// The configured public base URL wins over the request origin.
func (c *Config) BaseURL(requestOrigin string) string {
	base := c.Server.PublicBaseURL
	if base == "" {
		base = requestOrigin
	}
	if base == "" {
		base = DefaultFrontendOrigin
	}
	return strings.TrimRight(base, "/")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// Origins returns the allowed CORS origins, defaulting to the frontend dev server.
func (c *Config) Origins() []string {
	if len(c.Server.AllowedOrigins) > 0 {
		return c.Server.AllowedOrigins
	}
	return []string{DefaultFrontendOrigin}
}
