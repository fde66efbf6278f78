// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: YAML or TOML files with .env loading, ${VAR} expansion and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding an explicit config path.
const EnvConfigPath = "COVEN_RELAY_CONFIG"

// ErrNoConfigFile is returned by FindPath when no candidate exists.
var ErrNoConfigFile = errors.New("no config file found")

// Config represents the complete coven-relay configuration
type Config struct {
	Agent     AgentConfig     `yaml:"agent" toml:"agent"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	History   HistoryConfig   `yaml:"history" toml:"history"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Slack     SlackConfig     `yaml:"slack" toml:"slack"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// AgentConfig describes the hosted agent endpoint
type AgentConfig struct {
	Account  string            `yaml:"account" toml:"account"`
	BaseURL  string            `yaml:"base_url" toml:"base_url"`
	Token    string            `yaml:"token" toml:"token"`
	Database string            `yaml:"database" toml:"database"`
	Schema   string            `yaml:"schema" toml:"schema"`
	Primary  string            `yaml:"primary" toml:"primary"`
	Agents   map[string]string `yaml:"agents" toml:"agents"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// SessionConfig tunes round trips
type SessionConfig struct {
	MaxHistory       int      `yaml:"max_history" toml:"max_history"`
	Milestones       []string `yaml:"milestones" toml:"milestones"`
	SerializeThreads *bool    `yaml:"serialize_threads" toml:"serialize_threads"`

	ProgressInterval    time.Duration `yaml:"-" toml:"-"`
	ProgressIntervalRaw string        `yaml:"progress_interval" toml:"progress_interval"`
}

// Serialize reports whether same-thread round trips run one at a time.
func (s SessionConfig) Serialize() bool {
	return s.SerializeThreads == nil || *s.SerializeThreads
}

// HistoryConfig selects the history backend
type HistoryConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
	DSN     string `yaml:"dsn" toml:"dsn"`
}

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr" toml:"http_addr"`
	JWTSecret   string   `yaml:"jwt_secret" toml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
}

// SlackConfig holds Slack integration configuration
type SlackConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	BotToken        string   `yaml:"bot_token" toml:"bot_token"`
	AppToken        string   `yaml:"app_token" toml:"app_token"`
	AllowedChannels []string `yaml:"allowed_channels" toml:"allowed_channels"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	Homeserver      string   `yaml:"homeserver" toml:"homeserver"`
	UserID          string   `yaml:"user_id" toml:"user_id"`
	AccessToken     string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	CommandPrefix   string   `yaml:"command_prefix" toml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// defaultTemplate is used when no config file exists. It reads the same
// variables the relay has always read from the environment.
const defaultTemplate = `
agent:
  account: "${SNOWFLAKE_ACCOUNT}"
  base_url: "${COVEN_RELAY_AGENT_URL}"
  token: "${SNOWFLAKE_PAT}"
slack:
  bot_token: "${SLACK_BOT_TOKEN}"
  app_token: "${SLACK_APP_TOKEN}"
server:
  jwt_secret: "${COVEN_RELAY_JWT_SECRET}"
`

// FindPath returns the first existing config file from, in order, the
// COVEN_RELAY_CONFIG variable, ./relay.yaml, ./relay.toml and
// $XDG_CONFIG_HOME/coven/relay.yaml (~/.config when unset).
func FindPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}

	candidates := []string{"relay.yaml", "relay.toml"}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		candidates = append(candidates,
			filepath.Join(configHome, "coven", "relay.yaml"),
			filepath.Join(configHome, "coven", "relay.toml"))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", ErrNoConfigFile
}

// LoadDefault loads the file FindPath picks, or falls back to a config built
// purely from environment variables when there is none.
func LoadDefault() (*Config, string, error) {
	path, err := FindPath()
	if errors.Is(err, ErrNoConfigFile) {
		loadDotEnv("")
		cfg, err := parse([]byte(defaultTemplate), ".yaml")
		return cfg, "", err
	}
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Load reads a configuration file from the given path and returns a parsed
// Config. A .env file next to it, or in the working directory, is loaded
// first without overriding variables already set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	loadDotEnv(filepath.Dir(path))
	return parse(data, filepath.Ext(path))
}

func loadDotEnv(dir string) {
	paths := []string{".env"}
	if dir != "" && dir != "." {
		paths = append([]string{filepath.Join(dir, ".env")}, paths...)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml or .toml)", ext)
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
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.TimeoutRaw != "" {
		cfg.Agent.Timeout, err = time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
	}

	if cfg.Session.ProgressIntervalRaw != "" {
		cfg.Session.ProgressInterval, err = time.ParseDuration(cfg.Session.ProgressIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing session.progress_interval %q: %w", cfg.Session.ProgressIntervalRaw, err)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 60 * time.Second
	}
	c.Agent.Primary = strings.ToLower(strings.TrimSpace(c.Agent.Primary))
	if c.Agent.Primary == "" {
		c.Agent.Primary = "intelligence"
	}
	if len(c.Agent.Agents) == 0 {
		c.Agent.Agents = map[string]string{
			"intelligence": "ACME_INTELLIGENCE_AGENT",
			"contracts":    "ACME_CONTRACTS_AGENT",
			"perf":         "DATA_ENGINEER_ASSISTANT",
		}
	}
	// selectors are matched case-insensitively
	agents := make(map[string]string, len(c.Agent.Agents))
	for sel, name := range c.Agent.Agents {
		agents[strings.ToLower(strings.TrimSpace(sel))] = name
	}
	c.Agent.Agents = agents
	if c.Session.MaxHistory == 0 {
		c.Session.MaxHistory = 10
	}
	if c.Session.ProgressInterval == 0 {
		c.Session.ProgressInterval = 5 * time.Second
	}
	if c.History.Backend == "" {
		c.History.Backend = "memory"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8088"
	}
	if c.Tailscale.Hostname == "" {
		c.Tailscale.Hostname = "coven-relay"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Agent.Account == "" && c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.account or agent.base_url is required")
	}
	if c.Agent.BaseURL != "" {
		u, err := url.Parse(c.Agent.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("agent.base_url must be an http or https URL")
		}
	}
	if c.Agent.Token == "" {
		return fmt.Errorf("agent.token is required")
	}
	if _, ok := c.Agent.Agents[c.Agent.Primary]; !ok {
		return fmt.Errorf("agent.primary %q is not listed in agent.agents", c.Agent.Primary)
	}
	if c.Agent.Timeout < 0 || c.Session.ProgressInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	if c.Session.MaxHistory < 2 {
		return fmt.Errorf("session.max_history must be at least 2")
	}

	switch c.History.Backend {
	case "memory":
	case "sqlite", "bolt":
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required for the %s backend", c.History.Backend)
		}
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend must be memory, sqlite, bolt or postgres, got %q", c.History.Backend)
	}

	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < 32 {
		return fmt.Errorf("server.jwt_secret must be at least 32 bytes")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Slack.Enabled {
		if c.Slack.BotToken == "" {
			return fmt.Errorf("slack.bot_token is required when slack is enabled")
		}
		if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
			return fmt.Errorf("slack.app_token must be an app-level token (xapp-...)")
		}
	}

	if c.Matrix.Enabled {
		u, err := url.Parse(c.Matrix.Homeserver)
		if c.Matrix.Homeserver == "" || err != nil || u.Host == "" {
			return fmt.Errorf("matrix.homeserver must be a valid URL")
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}
