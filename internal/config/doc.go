// Package config loads and validates the YAML service configuration.
// Sections cover the HTTP API, capture backend, recognition backend, keyword
// alerts, sound, minutes generation, sqlite persistence and logging.
package config
