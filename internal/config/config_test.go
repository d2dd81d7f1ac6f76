package config

import (
	"os"
	"testing"
	"time"

	"log/slog"
)

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Database.Driver != defaultDatabaseDriver {
		t.Errorf("expected default driver %q, got %q", defaultDatabaseDriver, cfg.Database.Driver)
	}
	if cfg.Rewrite.Timeout != defaultRewriteTimeout {
		t.Errorf("expected default rewrite timeout %v, got %v", defaultRewriteTimeout, cfg.Rewrite.Timeout)
	}
	if cfg.Rewrite.Backoff != defaultRewriteBackoff {
		t.Errorf("expected default rewrite backoff %v, got %v", defaultRewriteBackoff, cfg.Rewrite.Backoff)
	}
	if cfg.Pipeline.MaxCandidates != defaultMaxCandidates {
		t.Errorf("expected default max candidates %d, got %d", defaultMaxCandidates, cfg.Pipeline.MaxCandidates)
	}
	if cfg.Pipeline.RunTimeout != defaultRunTimeout {
		t.Errorf("expected default run timeout %v, got %v", defaultRunTimeout, cfg.Pipeline.RunTimeout)
	}
	if cfg.Pipeline.SimilarityThreshold != defaultSimilarityThreshold {
		t.Errorf("expected default similarity threshold %v, got %v", defaultSimilarityThreshold, cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Pipeline.MinQuality != 60 || cfg.Pipeline.MinUniqueness != 70 {
		t.Errorf("unexpected default thresholds %v/%v", cfg.Pipeline.MinQuality, cfg.Pipeline.MinUniqueness)
	}
	if cfg.Scheduler.MaxConcurrentSources != defaultMaxConcurrentSources {
		t.Errorf("expected default concurrency %d, got %d", defaultMaxConcurrentSources, cfg.Scheduler.MaxConcurrentSources)
	}
	if cfg.Scheduler.FailureThreshold != defaultFailureThreshold {
		t.Errorf("expected default failure threshold %d, got %d", defaultFailureThreshold, cfg.Scheduler.FailureThreshold)
	}
	if cfg.Scheduler.CheckInterval != defaultCheckInterval {
		t.Errorf("expected default check interval %v, got %v", defaultCheckInterval, cfg.Scheduler.CheckInterval)
	}
	if cfg.Logging.Level != slog.LevelInfo {
		t.Errorf("expected default log level %v, got %v", slog.LevelInfo, cfg.Logging.Level)
	}
	if cfg.Logging.Format != defaultLogFormat {
		t.Errorf("expected default log format %q, got %q", defaultLogFormat, cfg.Logging.Format)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	clearConfigEnv(t)

	overrides := map[string]string{
		"DATABASE_DRIVER":                  "postgres",
		"DATABASE_URL":                     "postgres://localhost/contentpipe",
		"OPENAI_MODEL":                     "gpt-4o",
		"REWRITE_TIMEOUT_SECONDS":          "30",
		"REWRITE_BACKOFF_SECONDS":          "2",
		"MAX_CONCURRENT_SOURCES":           "5",
		"MAX_CANDIDATES_PER_RUN":           "50",
		"RUN_TIMEOUT_SECONDS":              "120",
		"FAILURE_THRESHOLD":                "3",
		"SIMILARITY_THRESHOLD":             "0.9",
		"MIN_QUALITY":                      "75",
		"MIN_UNIQUENESS":                   "40.5",
		"SCHEDULER_CHECK_INTERVAL_SECONDS": "15",
		"LOG_LEVEL":                        "debug",
		"LOG_FORMAT":                       "text",
	}
	for key, value := range overrides {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Database.Driver != "postgres" || cfg.Database.URL != overrides["DATABASE_URL"] {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("expected model override, got %q", cfg.OpenAI.Model)
	}
	if cfg.Rewrite.Timeout != 30*time.Second {
		t.Errorf("expected rewrite timeout %v, got %v", 30*time.Second, cfg.Rewrite.Timeout)
	}
	if cfg.Rewrite.Backoff != 2*time.Second {
		t.Errorf("expected rewrite backoff %v, got %v", 2*time.Second, cfg.Rewrite.Backoff)
	}
	if cfg.Scheduler.MaxConcurrentSources != 5 {
		t.Errorf("expected concurrency 5, got %d", cfg.Scheduler.MaxConcurrentSources)
	}
	if cfg.Pipeline.MaxCandidates != 50 {
		t.Errorf("expected max candidates 50, got %d", cfg.Pipeline.MaxCandidates)
	}
	if cfg.Pipeline.RunTimeout != 2*time.Minute {
		t.Errorf("expected run timeout %v, got %v", 2*time.Minute, cfg.Pipeline.RunTimeout)
	}
	if cfg.Scheduler.FailureThreshold != 3 {
		t.Errorf("expected failure threshold 3, got %d", cfg.Scheduler.FailureThreshold)
	}
	if cfg.Pipeline.SimilarityThreshold != 0.9 {
		t.Errorf("expected similarity threshold 0.9, got %v", cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Pipeline.MinQuality != 75 || cfg.Pipeline.MinUniqueness != 40.5 {
		t.Errorf("unexpected thresholds %v/%v", cfg.Pipeline.MinQuality, cfg.Pipeline.MinUniqueness)
	}
	if cfg.Scheduler.CheckInterval != 15*time.Second {
		t.Errorf("expected check interval %v, got %v", 15*time.Second, cfg.Scheduler.CheckInterval)
	}
	if cfg.Logging.Level != slog.LevelDebug {
		t.Errorf("expected log level %v, got %v", slog.LevelDebug, cfg.Logging.Level)
	}
	if cfg.Logging.Format != overrides["LOG_FORMAT"] {
		t.Errorf("expected log format %q, got %q", overrides["LOG_FORMAT"], cfg.Logging.Format)
	}
}

func TestLoadWithInvalidValues(t *testing.T) {
	tests := map[string]string{
		"DATABASE_DRIVER":         "mysql",
		"REWRITE_TIMEOUT_SECONDS": "-1",
		"REWRITE_BACKOFF_SECONDS": "abc",
		"RUN_TIMEOUT_SECONDS":     "3.5",
		"MAX_CONCURRENT_SOURCES":  "0",
		"MAX_CANDIDATES_PER_RUN":  "-4",
		"FAILURE_THRESHOLD":       "many",
		"SIMILARITY_THRESHOLD":    "1.5",
		"MIN_QUALITY":             "101",
		"MIN_UNIQUENESS":          "-3",
		"LOG_LEVEL":               "verbose",
		"LOG_FORMAT":              "xml",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error when %s=%q", key, value)
			}
		})
	}
}

func TestParseLogLevelAliases(t *testing.T) {
	tests := map[string]slog.Level{
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
	}

	for input, expected := range tests {
		level, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}

		if level != expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, level, expected)
		}
	}
}

func TestLoadDoesNotPersistEnvBetweenRuns(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("RUN_TIMEOUT_SECONDS", "5")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.Unsetenv("RUN_TIMEOUT_SECONDS"); err != nil {
		t.Fatalf("failed to unset env: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Pipeline.RunTimeout != defaultRunTimeout {
		t.Errorf("expected default run timeout after reset, got %v", cfg.Pipeline.RunTimeout)
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DATABASE_DRIVER",
		"DATABASE_URL",
		"OPENAI_API_KEY",
		"OPENAI_MODEL",
		"OPENAI_BASE_URL",
		"REWRITE_TIMEOUT_SECONDS",
		"REWRITE_BACKOFF_SECONDS",
		"PIPELINE_CONFIG",
		"MAX_CANDIDATES_PER_RUN",
		"RUN_TIMEOUT_SECONDS",
		"SIMILARITY_THRESHOLD",
		"MIN_QUALITY",
		"MIN_UNIQUENESS",
		"MAX_CONCURRENT_SOURCES",
		"SCHEDULER_QUEUE_SIZE",
		"FAILURE_THRESHOLD",
		"SCHEDULER_CHECK_INTERVAL_SECONDS",
		"METRICS_PORT",
		"LOG_LEVEL",
		"LOG_FORMAT",
	}

	for _, key := range keys {
		t.Setenv(key, "")
	}
}
