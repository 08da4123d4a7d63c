// Package config loads the bot configuration from JSON or YAML, applies
// environment overrides and hot-reloads the file when it changes.
package config
