// Package config loads the client configuration from YAML with ${ENV_VAR}
// expansion. Reconnect, replay-retry, and typing-window policy are explicit
// named fields so behavior is tunable and testable instead of hard-coded.
package config
