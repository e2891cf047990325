// ABOUTME: Configuration loading and parsing for the meeting-assistant bot
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNoTransport indicates that no chat transport is enabled.
var ErrNoTransport = errors.New("no chat transport enabled (enable matrix or discord)")

// Config represents the complete meeting-assistant configuration
type Config struct {
	Agent    AgentConfig    `yaml:"agent" toml:"agent"`
	Bot      BotConfig      `yaml:"bot" toml:"bot"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Discord  DiscordConfig  `yaml:"discord" toml:"discord"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// AgentConfig describes the agent endpoint and the client's retry policy
type AgentConfig struct {
	// URL is the agent endpoint. Empty is allowed: users are told at connect time.
	URL           string `yaml:"url" toml:"url"`
	MaxRetries    int    `yaml:"max_retries" toml:"max_retries"`
	MaxReplyChars int    `yaml:"max_reply_chars" toml:"max_reply_chars"`
	HistoryLength int    `yaml:"history_length" toml:"history_length"`

	BaseDelay       time.Duration `yaml:"-" toml:"-"`
	FailedTaskDelay time.Duration `yaml:"-" toml:"-"`
	Timeout         time.Duration `yaml:"-" toml:"-"`
	ConnectTimeout  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	BaseDelayRaw       string `yaml:"base_delay" toml:"base_delay"`
	FailedTaskDelayRaw string `yaml:"failed_task_delay" toml:"failed_task_delay"`
	TimeoutRaw         string `yaml:"timeout" toml:"timeout"`
	ConnectTimeoutRaw  string `yaml:"connect_timeout" toml:"connect_timeout"`
}

// BotConfig holds chat front-end behaviour
type BotConfig struct {
	HandleMessageEdits *bool `yaml:"handle_message_edits" toml:"handle_message_edits"`
	MessageLimit       int   `yaml:"message_limit" toml:"message_limit"`
	FormatReplies      *bool `yaml:"format_replies" toml:"format_replies"`

	EditResponseTimeout time.Duration `yaml:"-" toml:"-"`
	TypingInterval      time.Duration `yaml:"-" toml:"-"`
	SweepInterval       time.Duration `yaml:"-" toml:"-"`
	StaleAfter          time.Duration `yaml:"-" toml:"-"`

	EditResponseTimeoutRaw string `yaml:"edit_response_timeout" toml:"edit_response_timeout"`
	TypingIntervalRaw      string `yaml:"typing_interval" toml:"typing_interval"`
	SweepIntervalRaw       string `yaml:"sweep_interval" toml:"sweep_interval"`
	StaleAfterRaw          string `yaml:"stale_after" toml:"stale_after"`
}

// EditsEnabled reports whether edited messages re-trigger the agent. Defaults to true.
func (b BotConfig) EditsEnabled() bool {
	return b.HandleMessageEdits == nil || *b.HandleMessageEdits
}

// FormattingEnabled reports whether replies are sent as rich text. Defaults to true.
func (b BotConfig) FormattingEnabled() bool {
	return b.FormatReplies == nil || *b.FormatReplies
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	RecoveryKey  string   `yaml:"recovery_key" toml:"recovery_key"`
	AllowedUsers []string `yaml:"allowed_users" toml:"allowed_users"`
}

// DiscordConfig holds Discord integration configuration
type DiscordConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	BotToken        string   `yaml:"bot_token" toml:"bot_token"`
	AllowedChannels []string `yaml:"allowed_channels" toml:"allowed_channels"`
}

// DatabaseConfig holds the exchange ledger location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults mirror the behaviour the bot had before any of this was configurable.
const (
	DefaultMaxRetries          = 3
	DefaultMaxReplyChars       = 4000
	DefaultHistoryLength       = 10
	DefaultBaseDelay           = time.Second
	DefaultFailedTaskDelay     = 2 * time.Second
	DefaultTimeout             = 180 * time.Second
	DefaultConnectTimeout      = 30 * time.Second
	DefaultMessageLimit        = 4096
	DefaultEditResponseTimeout = 30 * time.Second
	DefaultTypingInterval      = 4 * time.Second
	DefaultSweepInterval       = 60 * time.Second
	DefaultStaleAfter          = 10 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes, applies defaults and validates the result.
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Matrix.Enabled && !c.Discord.Enabled {
		return ErrNoTransport
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		}
	}

	if c.Discord.Enabled && c.Discord.BotToken == "" {
		return fmt.Errorf("discord.bot_token is required when discord is enabled")
	}

	// An empty agent URL is reported to users on connect, but a malformed one is a setup mistake.
	if c.Agent.URL != "" {
		u, err := url.Parse(c.Agent.URL)
		if err != nil {
			return fmt.Errorf("agent.url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("agent.url must use http or https scheme")
		}
	}

	if c.Agent.MaxRetries < 1 {
		return fmt.Errorf("agent.max_retries must be at least 1")
	}
	if c.Bot.MessageLimit < 1 {
		return fmt.Errorf("bot.message_limit must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// applyDefaults fills zero values with the package defaults.
func (c *Config) applyDefaults() {
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = DefaultMaxRetries
	}
	if c.Agent.MaxReplyChars == 0 {
		c.Agent.MaxReplyChars = DefaultMaxReplyChars
	}
	if c.Agent.HistoryLength == 0 {
		c.Agent.HistoryLength = DefaultHistoryLength
	}
	if c.Agent.BaseDelay == 0 {
		c.Agent.BaseDelay = DefaultBaseDelay
	}
	if c.Agent.FailedTaskDelay == 0 {
		c.Agent.FailedTaskDelay = DefaultFailedTaskDelay
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = DefaultTimeout
	}
	if c.Agent.ConnectTimeout == 0 {
		c.Agent.ConnectTimeout = DefaultConnectTimeout
	}

	if c.Bot.MessageLimit == 0 {
		c.Bot.MessageLimit = DefaultMessageLimit
	}
	if c.Bot.EditResponseTimeout == 0 {
		c.Bot.EditResponseTimeout = DefaultEditResponseTimeout
	}
	if c.Bot.TypingInterval == 0 {
		c.Bot.TypingInterval = DefaultTypingInterval
	}
	if c.Bot.SweepInterval == 0 {
		c.Bot.SweepInterval = DefaultSweepInterval
	}
	if c.Bot.StaleAfter == 0 {
		c.Bot.StaleAfter = DefaultStaleAfter
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"agent.base_delay", cfg.Agent.BaseDelayRaw, &cfg.Agent.BaseDelay},
		{"agent.failed_task_delay", cfg.Agent.FailedTaskDelayRaw, &cfg.Agent.FailedTaskDelay},
		{"agent.timeout", cfg.Agent.TimeoutRaw, &cfg.Agent.Timeout},
		{"agent.connect_timeout", cfg.Agent.ConnectTimeoutRaw, &cfg.Agent.ConnectTimeout},
		{"bot.edit_response_timeout", cfg.Bot.EditResponseTimeoutRaw, &cfg.Bot.EditResponseTimeout},
		{"bot.typing_interval", cfg.Bot.TypingIntervalRaw, &cfg.Bot.TypingInterval},
		{"bot.sweep_interval", cfg.Bot.SweepIntervalRaw, &cfg.Bot.SweepInterval},
		{"bot.stale_after", cfg.Bot.StaleAfterRaw, &cfg.Bot.StaleAfter},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
