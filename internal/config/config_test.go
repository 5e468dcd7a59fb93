package config

import (
	"testing"
	"time"
)

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"MNEMO_BIND_ADDR",
		"MNEMO_SHUTDOWN_TIMEOUT",
		"MNEMO_METRICS_NAMESPACE",
		"MNEMO_STORAGE_DIR",
		"MNEMO_SESSION_IDLE_TIMEOUT",
		"MNEMO_ARCHIVAL_SWEEP_INTERVAL",
		"MNEMO_BUDGET_USER",
		"MNEMO_BUDGET_ASSISTANT",
		"MNEMO_RECALL_TOP_K",
		"MNEMO_RECALL_MIN_SIMILARITY",
		"MNEMO_EMBEDDING_PROVIDER",
		"MNEMO_EMBEDDING_URL",
		"MNEMO_EMBEDDING_MODEL",
		"MNEMO_EMBEDDING_API_KEY",
		"MNEMO_EMBEDDING_DIM",
		"MNEMO_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8087" {
		t.Fatalf("BindAddr = %q, want :8087", cfg.BindAddr)
	}
	if cfg.StorageDir != "./data" {
		t.Fatalf("StorageDir = %q, want ./data", cfg.StorageDir)
	}
	if cfg.SessionIdleTimeout != 24*time.Hour {
		t.Fatalf("SessionIdleTimeout = %s, want 24h", cfg.SessionIdleTimeout)
	}
	if cfg.ArchivalSweepInterval != 10*time.Minute {
		t.Fatalf("ArchivalSweepInterval = %s, want 10m", cfg.ArchivalSweepInterval)
	}
	if got := cfg.RoleTokenBudgets["user"]; got != 4000 {
		t.Fatalf("user budget = %d, want 4000", got)
	}
	if got := cfg.RoleTokenBudgets["assistant"]; got != 8000 {
		t.Fatalf("assistant budget = %d, want 8000", got)
	}
	if cfg.RecallTopK != 5 || cfg.RecallMinSimilarity != 0.7 {
		t.Fatalf("recall defaults = %d, %f", cfg.RecallTopK, cfg.RecallMinSimilarity)
	}
	if cfg.EmbeddingProvider != "mock" || cfg.EmbeddingDim != 256 {
		t.Fatalf("embedding defaults = %q, %d", cfg.EmbeddingProvider, cfg.EmbeddingDim)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MNEMO_BIND_ADDR", ":9090")
	t.Setenv("MNEMO_SESSION_IDLE_TIMEOUT", "2h")
	t.Setenv("MNEMO_BUDGET_USER", "1234")
	t.Setenv("MNEMO_RECALL_MIN_SIMILARITY", "0.5")
	t.Setenv("MNEMO_EMBEDDING_PROVIDER", "openai")
	t.Setenv("MNEMO_EMBEDDING_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.SessionIdleTimeout != 2*time.Hour {
		t.Fatalf("SessionIdleTimeout = %s", cfg.SessionIdleTimeout)
	}
	if cfg.RoleTokenBudgets["user"] != 1234 {
		t.Fatalf("user budget = %d", cfg.RoleTokenBudgets["user"])
	}
	if cfg.RecallMinSimilarity != 0.5 {
		t.Fatalf("RecallMinSimilarity = %f", cfg.RecallMinSimilarity)
	}
	if cfg.EmbeddingProvider != "openai" || cfg.EmbeddingAPIKey != "sk-test" {
		t.Fatalf("embedding = %q, %q", cfg.EmbeddingProvider, cfg.EmbeddingAPIKey)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"idle timeout too short", "MNEMO_SESSION_IDLE_TIMEOUT", "5s"},
		{"idle timeout not a duration", "MNEMO_SESSION_IDLE_TIMEOUT", "soon"},
		{"sweep interval too short", "MNEMO_ARCHIVAL_SWEEP_INTERVAL", "10ms"},
		{"zero budget", "MNEMO_BUDGET_USER", "0"},
		{"negative budget", "MNEMO_BUDGET_ASSISTANT", "-1"},
		{"top-k zero", "MNEMO_RECALL_TOP_K", "0"},
		{"similarity above one", "MNEMO_RECALL_MIN_SIMILARITY", "1.5"},
		{"similarity negative", "MNEMO_RECALL_MIN_SIMILARITY", "-0.1"},
		{"bad embedding dim", "MNEMO_EMBEDDING_DIM", "0"},
		{"unknown provider", "MNEMO_EMBEDDING_PROVIDER", "oracle"},
		{"bad bool", "MNEMO_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", tc.key, tc.value)
			}
		})
	}
}

func TestBudgetFor(t *testing.T) {
	setCoreEnvEmpty(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.BudgetFor("assistant"); got != 8000 {
		t.Fatalf("BudgetFor(assistant) = %d, want 8000", got)
	}
	if got := cfg.BudgetFor("narrator"); got != 4000 {
		t.Fatalf("BudgetFor(narrator) = %d, want user default 4000", got)
	}
}
