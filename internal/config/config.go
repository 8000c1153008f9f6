// Package config provides environment-based configuration for voicewidget commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the gateway daemon.
const (
	DefaultListenAddr     = ":8090"
	DefaultUpstreamURL    = "wss://api.openai.com/v1/realtime"
	DefaultUpstreamModel  = "gpt-4o-realtime-preview-2024-12-17"
	DefaultTokenPath      = "/api/voice/token"
	DefaultKnowledgePath  = "/api/chat"
	DefaultLogLevel       = "info"
	DefaultVADThreshold   = 0.6
	DefaultPrefixPadding  = 300 * time.Millisecond
	DefaultSilenceTimeout = 600 * time.Millisecond
)

// Env returns the value of an environment variable or a fallback.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvRequired returns the value of an environment variable.
// Exits with a usage message if not set.
func EnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable is required\n", key)
		fmt.Fprintf(os.Stderr, "Usage: %s=... go run ./cmd/voicewidgetd\n", key)
		os.Exit(1)
	}
	return v
}

// EnvFloat returns a float environment variable or a fallback.
func EnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// EnvDuration returns a duration environment variable or a fallback.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// ListenAddr returns the gateway listen address from LISTEN_ADDR.
func ListenAddr() string {
	return Env("LISTEN_ADDR", DefaultListenAddr)
}

// UpstreamURL returns the speech backend WebSocket URL from UPSTREAM_URL.
func UpstreamURL() string {
	return Env("UPSTREAM_URL", DefaultUpstreamURL)
}

// UpstreamModel returns the speech model from UPSTREAM_MODEL.
func UpstreamModel() string {
	return Env("UPSTREAM_MODEL", DefaultUpstreamModel)
}

// BackendBase returns the chat backend base URL from BACKEND_URL.
// This hosts both the token endpoint and the knowledge lookup.
func BackendBase() string {
	return EnvRequired("BACKEND_URL")
}

// LogLevel returns the log level from LOG_LEVEL.
func LogLevel() string {
	return Env("LOG_LEVEL", DefaultLogLevel)
}
