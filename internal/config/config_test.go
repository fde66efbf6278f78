// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, .env files, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "relay.yaml", `
agent:
  account: "acme-xy12345"
  token: "pat-secret"
  timeout: "90s"
  primary: "contracts"
  agents:
    contracts: "ACME_CONTRACTS_AGENT"
    perf: "DATA_ENGINEER_ASSISTANT"

session:
  max_history: 6
  progress_interval: "2s"
  serialize_threads: false

history:
  backend: "sqlite"
  path: "./relay.db"

slack:
  enabled: true
  bot_token: "xoxb-test"
  app_token: "xapp-test"
  allowed_channels: ["C1", "C2"]

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.Timeout != 90*time.Second {
		t.Errorf("Agent.Timeout = %v, want %v", cfg.Agent.Timeout, 90*time.Second)
	}
	assert.Equal(t, "contracts", cfg.Agent.Primary)
	assert.Len(t, cfg.Agent.Agents, 2)
	assert.Equal(t, 6, cfg.Session.MaxHistory)
	assert.Equal(t, 2*time.Second, cfg.Session.ProgressInterval)
	assert.False(t, cfg.Session.Serialize())
	assert.Equal(t, "sqlite", cfg.History.Backend)
	assert.Equal(t, []string{"C1", "C2"}, cfg.Slack.AllowedChannels)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:8088", cfg.Server.HTTPAddr, "default applied")
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "relay.toml", `
[agent]
base_url = "http://127.0.0.1:9999"
token = "pat"

[matrix]
enabled = true
homeserver = "https://matrix.example.org"
user_id = "@relay:example.org"
access_token = "syt_x"
command_prefix = "!ask"
typing_indicator = true

[history]
backend = "bolt"
path = "relay.bolt"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Agent.BaseURL)
	assert.True(t, cfg.Matrix.Enabled)
	assert.Equal(t, "!ask", cfg.Matrix.CommandPrefix)
	assert.True(t, cfg.Matrix.TypingIndicator)
	assert.Equal(t, "bolt", cfg.History.Backend)
	assert.Equal(t, 60*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, "ACME_INTELLIGENCE_AGENT", cfg.Agent.Agents["intelligence"])
	assert.True(t, cfg.Session.Serialize())
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_RELAY_PAT", "from-env")
	path := writeConfig(t, "relay.yaml", `
agent:
  account: "acme"
  token: "${TEST_RELAY_PAT}"
server:
  jwt_secret: "${TEST_RELAY_UNSET_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Agent.Token)
	assert.Empty(t, cfg.Server.JWTSecret)
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_RELAY_DOTENV_PAT=dotenv-pat\n"), 0644))
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  account: a\n  token: \"${TEST_RELAY_DOTENV_PAT}\"\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TEST_RELAY_DOTENV_PAT") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-pat", cfg.Agent.Token)
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	t.Setenv("TEST_RELAY_KEEP", "process")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_RELAY_KEEP=dotenv\n"), 0644))
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  account: a\n  token: \"${TEST_RELAY_KEEP}\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "process", cfg.Agent.Token)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"missing token", "c.yaml", "agent:\n  account: a\n", "agent.token"},
		{"missing account", "c.yaml", "agent:\n  token: t\n", "agent.account"},
		{"bad base url", "c.yaml", "agent:\n  base_url: ftp://x\n  token: t\n", "base_url"},
		{"bad duration", "c.yaml", "agent:\n  account: a\n  token: t\n  timeout: soon\n", "agent.timeout"},
		{"unknown field", "c.yaml", "agent:\n  account: a\n  token: t\n  tokn: x\n", "tokn"},
		{"primary not listed", "c.yaml", "agent:\n  account: a\n  token: t\n  primary: nope\n", "agent.primary"},
		{"sqlite without path", "c.yaml", "agent:\n  account: a\n  token: t\nhistory:\n  backend: sqlite\n", "history.path"},
		{"postgres without dsn", "c.yaml", "agent:\n  account: a\n  token: t\nhistory:\n  backend: postgres\n", "history.dsn"},
		{"unknown backend", "c.yaml", "agent:\n  account: a\n  token: t\nhistory:\n  backend: redis\n", "history.backend"},
		{"short jwt secret", "c.yaml", "agent:\n  account: a\n  token: t\nserver:\n  jwt_secret: short\n", "jwt_secret"},
		{"slack bot token", "c.yaml", "agent:\n  account: a\n  token: t\nslack:\n  enabled: true\n  app_token: xapp-1\n", "slack.bot_token"},
		{"slack app token", "c.yaml", "agent:\n  account: a\n  token: t\nslack:\n  enabled: true\n  bot_token: xoxb\n  app_token: xoxb-2\n", "slack.app_token"},
		{"matrix homeserver", "c.yaml", "agent:\n  account: a\n  token: t\nmatrix:\n  enabled: true\n", "matrix.homeserver"},
		{"log level", "c.yaml", "agent:\n  account: a\n  token: t\nlogging:\n  level: loud\n", "logging.level"},
		{"max history", "c.yaml", "agent:\n  account: a\n  token: t\nsession:\n  max_history: 1\n", "max_history"},
		{"bad toml", "c.toml", "[agent\n", "parsing config file"},
		{"unsupported ext", "c.json", "{}", "unsupported config format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatalf("Load() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_AgentSelectorsAreCaseInsensitive(t *testing.T) {
	path := writeConfig(t, "relay.yaml", `
agent:
  account: "acme"
  token: "t"
  primary: "Intelligence"
  agents:
    Intelligence: "ACME_INTELLIGENCE_AGENT"
    " PERF ": "DATA_ENGINEER_ASSISTANT"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "intelligence", cfg.Agent.Primary)
	assert.Equal(t, map[string]string{
		"intelligence": "ACME_INTELLIGENCE_AGENT",
		"perf":         "DATA_ENGINEER_ASSISTANT",
	}, cfg.Agent.Agents)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFindPath_EnvOverride(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/coven/relay.yaml")
	p, err := FindPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/coven/relay.yaml", p)
}

func TestFindPath_XDG(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Chdir(t.TempDir())

	_, err := FindPath()
	assert.ErrorIs(t, err, ErrNoConfigFile)

	want := filepath.Join(xdg, "coven", "relay.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(want), 0755))
	require.NoError(t, os.WriteFile(want, []byte(""), 0644))

	p, err := FindPath()
	require.NoError(t, err)
	assert.Equal(t, want, p)
}

func TestLoadDefault_FromEnvironment(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("SNOWFLAKE_ACCOUNT", "acme-env")
	t.Setenv("SNOWFLAKE_PAT", "pat-env")

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "acme-env", cfg.Agent.Account)
	assert.Equal(t, "pat-env", cfg.Agent.Token)
	assert.Equal(t, "memory", cfg.History.Backend)
}
