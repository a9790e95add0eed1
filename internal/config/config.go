// Package config loads application configuration from defaults, a YAML file
// and STATUSPAGE_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
// Nested keys are separated by a double underscore: STATUSPAGE_BACKEND__URL.
const EnvPrefix = "STATUSPAGE_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Site          SiteConfig          `koanf:"site"`
	Backend       BackendConfig       `koanf:"backend"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Feed          FeedConfig          `koanf:"feed"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig configures the public and metrics HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	PublicURL         string        `koanf:"public_url" validate:"omitempty,url"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// SiteConfig configures the rendered pages.
type SiteConfig struct {
	Title          string        `koanf:"title" validate:"required"`
	ResolvedWindow time.Duration `koanf:"resolved_window" validate:"gt=0"`
}

// BackendConfig configures the status page backend client.
type BackendConfig struct {
	URL       string        `koanf:"url" validate:"required,url"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimit float64       `koanf:"rate_limit" validate:"gte=0"`
	Burst     int           `koanf:"burst" validate:"gte=1"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	CacheSize int           `koanf:"cache_size" validate:"gte=1"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// CORSConfig lists origins allowed to call the server from a browser.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// FeedConfig configures status polling and the live WebSocket feed.
type FeedConfig struct {
	Enabled      bool          `koanf:"enabled"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
	ClientBuffer int           `koanf:"client_buffer" validate:"gte=1"`
}

// NotificationsConfig configures change notifications.
// A sender is active when its webhook URL is set.
type NotificationsConfig struct {
	Enabled        bool             `koanf:"enabled"`
	QueueSize      int              `koanf:"queue_size" validate:"gte=1"`
	Workers        int              `koanf:"workers" validate:"gte=1"`
	MaxAttempts    int              `koanf:"max_attempts" validate:"gte=1"`
	InitialBackoff time.Duration    `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration    `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
	Slack          SlackConfig      `koanf:"slack"`
	Mattermost     MattermostConfig `koanf:"mattermost"`
	Email          EmailConfig      `koanf:"email"`
}

// SlackConfig configures the Slack incoming webhook sender.
type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`
	Channel    string `koanf:"channel"`
	Username   string `koanf:"username"`
}

// MattermostConfig configures the Mattermost incoming webhook sender.
type MattermostConfig struct {
	WebhookURL string        `koanf:"webhook_url" validate:"omitempty,url"`
	Username   string        `koanf:"username"`
	IconURL    string        `koanf:"icon_url" validate:"omitempty,url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// EmailConfig configures the SMTP sender. It is active when SMTPHost and
// Recipients are set.
type EmailConfig struct {
	SMTPHost     string   `koanf:"smtp_host"`
	SMTPPort     int      `koanf:"smtp_port" validate:"gte=0,lte=65535"`
	SMTPUser     string   `koanf:"smtp_user"`
	SMTPPassword string   `koanf:"smtp_password"`
	FromAddress  string   `koanf:"from_address" validate:"required_with=SMTPHost"`
	Recipients   []string `koanf:"recipients" validate:"dive,email"`
	BatchSize    int      `koanf:"batch_size" validate:"gte=0"`
}

// Active reports whether the email sender has enough configuration to run.
func (c EmailConfig) Active() bool {
	return c.SMTPHost != "" && len(c.Recipients) > 0
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    30 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Site: SiteConfig{
			Title:          "Status",
			ResolvedWindow: 7 * 24 * time.Hour,
		},
		Backend: BackendConfig{
			URL:       "http://localhost:8081",
			Timeout:   5 * time.Second,
			RateLimit: 50,
			Burst:     20,
			CacheTTL:  5 * time.Second,
			CacheSize: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{},
		},
		Feed: FeedConfig{
			Enabled:      true,
			PollInterval: 15 * time.Second,
			ClientBuffer: 16,
		},
		Notifications: NotificationsConfig{
			Enabled:        false,
			QueueSize:      100,
			Workers:        2,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			Slack: SlackConfig{
				Username: "StatusPage",
			},
			Mattermost: MattermostConfig{
				Username: "StatusPage",
				Timeout:  10 * time.Second,
			},
			Email: EmailConfig{
				SMTPPort:  587,
				BatchSize: 50,
			},
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// listKeys are the keys whose environment values are comma separated lists.
var listKeys = map[string]bool{
	"cors.allowed_origins":           true,
	"notifications.email.recipients": true,
}

// envKey maps STATUSPAGE_BACKEND__CACHE_TTL to backend.cache_ttl.
// Values of list keys are split on commas; other values are kept whole.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	if !listKeys[key] {
		return key, value
	}

	parts := make([]string, 0, strings.Count(value, ",")+1)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return key, parts
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NotificationsActive reports whether at least one notification sender is configured.
func (c *Config) NotificationsActive() bool {
	n := c.Notifications
	return n.Enabled && (n.Slack.WebhookURL != "" || n.Mattermost.WebhookURL != "" || n.Email.Active())
}
