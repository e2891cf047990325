// Package config handles configuration loading for the meeting-assistant bot.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion. A .env file in the working directory is
// loaded by the binaries before the config is read, so ${VAR} references can
// point at values kept there.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from ASSISTANT_CONFIG environment variable
//  3. ~/.config/meeting-assistant/config.yaml
//
// # Environment Variable Expansion
//
//	agent:
//	  url: "${AGENT_API_URL}"
//
// Unset variables expand to the empty string. An empty agent URL is not a
// load error: users see a connection error when they try to connect.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	bot:
//	  edit_response_timeout: "30s"
//	  typing_interval: "4s"
//	  sweep_interval: "60s"
//	  stale_after: "10m"
//
// # Sections
//
//	agent:     endpoint URL, retry count, backoff bases, timeouts, reply cap
//	bot:       edit handling, typing interval, chunk size, sweep cadence
//	matrix:    homeserver, user_id, access_token, recovery_key, allowed_users
//	discord:   bot_token, allowed_channels
//	database:  exchange ledger path
//	logging:   level (debug|info|warn|error), format (text|json)
//
// At least one of matrix or discord must be enabled.
package config
