// Package config loads runtime settings from the environment and applies
// documented defaults. Validation happens in a single pass at the end of
// Load; safety-critical options (idle timeout, budgets) are never silently
// disabled by a missing value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	StorageDir            string
	SessionIdleTimeout    time.Duration
	ArchivalSweepInterval time.Duration

	// RoleTokenBudgets caps the active window per appending role.
	RoleTokenBudgets map[string]int

	RecallTopK          int
	RecallMinSimilarity float64

	DatabaseURL string

	EmbeddingProvider string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingDim      int

	AllowAnyOrigin bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("MNEMO_BIND_ADDR", ":8087"),
		MetricsNamespace: envOrDefault("MNEMO_METRICS_NAMESPACE", "mnemo"),
		StorageDir:       envOrDefault("MNEMO_STORAGE_DIR", "./data"),
		// A conservative default: sessions expire after a day of silence
		// rather than never expiring at all.
		SessionIdleTimeout:    24 * time.Hour,
		ArchivalSweepInterval: 10 * time.Minute,
		RoleTokenBudgets: map[string]int{
			"user":      4000,
			"assistant": 8000,
		},
		RecallTopK:          5,
		RecallMinSimilarity: 0.7,
		DatabaseURL:         trimSpaceEnv("DATABASE_URL"),
		EmbeddingProvider:   envOrDefault("MNEMO_EMBEDDING_PROVIDER", "mock"),
		EmbeddingBaseURL:    trimSpaceEnv("MNEMO_EMBEDDING_URL"),
		EmbeddingModel:      envOrDefault("MNEMO_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingAPIKey:     trimSpaceEnv("MNEMO_EMBEDDING_API_KEY"),
		EmbeddingDim:        256,
		ShutdownTimeout:     15 * time.Second,
		AllowAnyOrigin:      false,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("MNEMO_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("MNEMO_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ArchivalSweepInterval, err = durationFromEnv("MNEMO_ARCHIVAL_SWEEP_INTERVAL", cfg.ArchivalSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RoleTokenBudgets["user"], err = intFromEnv("MNEMO_BUDGET_USER", cfg.RoleTokenBudgets["user"])
	if err != nil {
		return Config{}, err
	}
	cfg.RoleTokenBudgets["assistant"], err = intFromEnv("MNEMO_BUDGET_ASSISTANT", cfg.RoleTokenBudgets["assistant"])
	if err != nil {
		return Config{}, err
	}
	cfg.RecallTopK, err = intFromEnv("MNEMO_RECALL_TOP_K", cfg.RecallTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.RecallMinSimilarity, err = floatFromEnv("MNEMO_RECALL_MIN_SIMILARITY", cfg.RecallMinSimilarity)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("MNEMO_EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("MNEMO_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.StorageDir) == "" {
		return Config{}, fmt.Errorf("MNEMO_STORAGE_DIR must not be empty")
	}
	if cfg.SessionIdleTimeout < time.Minute {
		return Config{}, fmt.Errorf("MNEMO_SESSION_IDLE_TIMEOUT must be at least 1m")
	}
	if cfg.ArchivalSweepInterval < time.Second {
		return Config{}, fmt.Errorf("MNEMO_ARCHIVAL_SWEEP_INTERVAL must be at least 1s")
	}
	for role, budget := range cfg.RoleTokenBudgets {
		if budget <= 0 {
			return Config{}, fmt.Errorf("token budget for role %q must be positive", role)
		}
	}
	if cfg.RecallTopK <= 0 {
		return Config{}, fmt.Errorf("MNEMO_RECALL_TOP_K must be positive")
	}
	if cfg.RecallMinSimilarity < 0 || cfg.RecallMinSimilarity > 1 {
		return Config{}, fmt.Errorf("MNEMO_RECALL_MIN_SIMILARITY must be in [0,1]")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("MNEMO_EMBEDDING_DIM must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider)) {
	case "mock", "openai", "auto":
	default:
		return Config{}, fmt.Errorf("invalid MNEMO_EMBEDDING_PROVIDER: %q (expected auto|openai|mock)", cfg.EmbeddingProvider)
	}

	return cfg, nil
}

// BudgetFor returns the token budget for a role, defaulting to the user
// budget for roles without an explicit entry.
func (c Config) BudgetFor(role string) int {
	if b, ok := c.RoleTokenBudgets[role]; ok {
		return b
	}
	return c.RoleTokenBudgets["user"]
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpaceEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
