// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file, picked by extension,
// with environment variable expansion. Missing optional values get
// defaults and the result is validated before it is returned.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_RELAY_CONFIG environment variable
//  2. ./relay.yaml, then ./relay.toml
//  3. $XDG_CONFIG_HOME/coven/relay.yaml (or relay.toml)
//
// When none exists, LoadDefault builds a config from SNOWFLAKE_ACCOUNT,
// SNOWFLAKE_PAT, SLACK_BOT_TOKEN, SLACK_APP_TOKEN and
// COVEN_RELAY_JWT_SECRET.
//
// # Environment Variables
//
// A .env file next to the config file, and one in the working directory,
// are loaded first. Variables already set in the process win.
//
// Values can reference the environment:
//
//	agent:
//	  token: "${SNOWFLAKE_PAT}"
//
// # Duration Parsing
//
//	agent:
//	  timeout: "60s"
//	session:
//	  progress_interval: "5s"
//
// # Configuration Sections
//
//	agent:
//	  account: "acme-xy12345"
//	  token: "${SNOWFLAKE_PAT}"
//	  primary: "intelligence"
//	  agents:
//	    intelligence: "ACME_INTELLIGENCE_AGENT"
//	    contracts: "ACME_CONTRACTS_AGENT"
//
//	session:
//	  max_history: 10
//	  serialize_threads: true
//	  milestones: ["planning", "executing", "generating", "forming"]
//
//	history:
//	  backend: "sqlite"          # memory, sqlite, bolt, postgres
//	  path: "/var/lib/coven/relay.db"
//	  dsn: "postgres://..."      # postgres only
//
//	server:
//	  http_addr: "127.0.0.1:8088"
//	  jwt_secret: "${COVEN_RELAY_JWT_SECRET}"
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-relay"
//	  auth_key: "${TS_AUTHKEY}"
//
//	slack:
//	  enabled: true
//	  bot_token: "${SLACK_BOT_TOKEN}"
//	  app_token: "${SLACK_APP_TOKEN}"
//
//	matrix:
//	  enabled: false
//	  homeserver: "https://matrix.org"
//	  user_id: "@relay:matrix.org"
//	  access_token: "${MATRIX_TOKEN}"
//	  command_prefix: "!ask"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
