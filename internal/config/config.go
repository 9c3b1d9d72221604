// Package config loads runtime configuration for the feed generator: secrets
// and network endpoints from the environment, and scoring parameters from a
// pair of optional YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds connection and deployment settings loaded from environment
// variables once at startup and never reloaded (ScoringConfig is likewise
// loaded once).
type Config struct {
	DatabaseURL       string // DATABASE_URL — sqlite file path, "sqlite://...", or "postgres://..."
	Port              string // PORT
	PublisherDID      string // PUBLISHER_DID — the DID that owns/publishes this feed's definition record
	FeedHostname      string // FEED_HOSTNAME — external hostname advertised in describeFeedGenerator
	FirehoseLimit     int    // FIREHOSE_LIMIT — optional cap on events processed per run, 0 = unlimited
	EnableBackfill    bool   // ENABLE_BACKFILL
	BlueskyIdentifier string // BLUESKY_IDENTIFIER
	BlueskyPassword   string // BLUESKY_PASSWORD

	// ScoringDefaultsPath / ScoringOverridePath point at the two YAML files
	// described in spec.md §6. Both are optional; missing files are skipped.
	ScoringDefaultsPath string // DEVLOGS_CONFIG, default "config/default.yaml"
	ScoringOverridePath string // DEVLOGS_CONFIG_OVERRIDE, default "config/override.yaml"

	// ML backend, consumed by internal/mlworker.
	MLBackendURL string // ML_BACKEND_URL, default "http://localhost:11434" (Ollama default)
	MLModel      string // ML_MODEL, default "llama3.1"
	MLEmbedModel string // ML_EMBED_MODEL, default "nomic-embed-text"

	BackfillPollInterval time.Duration // BACKFILL_POLL_INTERVAL, default 0 (one-shot)

	WebAdminPassword string // WEB_ADMIN — HTTP Basic Auth password for /admin; empty disables the admin surface
}

// Load reads configuration from environment variables, applying the same
// fallback defaults the teacher's config.Load used.
func Load() *Config {
	return &Config{
		DatabaseURL:       getEnv("DATABASE_URL", "feed.db"),
		Port:              getEnv("PORT", "3030"),
		PublisherDID:      os.Getenv("PUBLISHER_DID"),
		FeedHostname:      os.Getenv("FEED_HOSTNAME"),
		FirehoseLimit:     parseInt(os.Getenv("FIREHOSE_LIMIT"), 0),
		EnableBackfill:    getEnvBool("ENABLE_BACKFILL"),
		BlueskyIdentifier: os.Getenv("BLUESKY_IDENTIFIER"),
		BlueskyPassword:   os.Getenv("BLUESKY_PASSWORD"),

		ScoringDefaultsPath: getEnv("DEVLOGS_CONFIG", "config/default.yaml"),
		ScoringOverridePath: getEnv("DEVLOGS_CONFIG_OVERRIDE", "config/override.yaml"),

		MLBackendURL: getEnv("ML_BACKEND_URL", "http://localhost:11434"),
		MLModel:      getEnv("ML_MODEL", "llama3.1"),
		MLEmbedModel: getEnv("ML_EMBED_MODEL", "nomic-embed-text"),

		BackfillPollInterval: parseDuration(os.Getenv("BACKFILL_POLL_INTERVAL"), 0),

		WebAdminPassword: os.Getenv("WEB_ADMIN"),
	}
}

// BackfillEnabled reports whether both the feature flag and credentials are present.
func (c *Config) BackfillEnabled() bool {
	return c.EnableBackfill && c.BlueskyIdentifier != "" && c.BlueskyPassword != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1"
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ValidatePort is a small sanity check used by cmd/devlogs-feed at startup.
func ValidatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid PORT %q", port)
	}
	return nil
}
