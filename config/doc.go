// Package config loads node configuration from TOML with environment
// overrides. Precedence is defaults, then the config file, then
// AGENTDIR_* variables. A node runs out of the box with no file at all.
package config
