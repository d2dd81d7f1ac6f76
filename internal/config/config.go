package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Database  DatabaseConfig
	OpenAI    OpenAIConfig
	Rewrite   RewriteConfig
	Pipeline  PipelineConfig
	Scheduler SchedulerConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

// DatabaseConfig selects the store backing the source registry and item sink.
type DatabaseConfig struct {
	Driver string // postgres or sqlite
	URL    string
}

// OpenAIConfig configures the generative rewrite service.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RewriteConfig bounds calls to the rewrite service.
type RewriteConfig struct {
	Timeout time.Duration
	Backoff time.Duration
}

// PipelineConfig holds per-run processing limits.
type PipelineConfig struct {
	ConfigPath          string
	MaxCandidates       int
	RunTimeout          time.Duration
	SimilarityThreshold float64
	MinQuality          float64
	MinUniqueness       float64
}

// SchedulerConfig holds adaptive scheduler parameters.
type SchedulerConfig struct {
	MaxConcurrentSources int
	QueueSize            int
	FailureThreshold     int
	CheckInterval        time.Duration
}

// MetricsConfig configures the Prometheus endpoint served by the scheduler.
type MetricsConfig struct {
	Port string
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

const (
	defaultDatabaseDriver = "sqlite"
	defaultDatabaseURL    = "file:contentpipe.db?_pragma=busy_timeout(5000)"

	defaultOpenAIModel    = "gpt-4o-mini"
	defaultRewriteTimeout = 60 * time.Second
	defaultRewriteBackoff = 6 * time.Second

	defaultPipelineConfig      = "configs/pipeline.yaml"
	defaultMaxCandidates       = 20
	defaultRunTimeout          = 10 * time.Minute
	defaultSimilarityThreshold = 0.85
	defaultMinQuality          = 60.0
	defaultMinUniqueness       = 70.0

	defaultMaxConcurrentSources = 3
	defaultQueueSize            = 64
	defaultFailureThreshold     = 5
	defaultCheckInterval        = time.Minute

	defaultMetricsPort = "9090"
	defaultLogFormat   = "json"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	cfg := Config{
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", defaultDatabaseDriver),
			URL:    getEnv("DATABASE_URL", defaultDatabaseURL),
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnv("OPENAI_MODEL", defaultOpenAIModel),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		Rewrite: RewriteConfig{
			Timeout: defaultRewriteTimeout,
			Backoff: defaultRewriteBackoff,
		},
		Pipeline: PipelineConfig{
			ConfigPath:          getEnv("PIPELINE_CONFIG", defaultPipelineConfig),
			MaxCandidates:       defaultMaxCandidates,
			RunTimeout:          defaultRunTimeout,
			SimilarityThreshold: defaultSimilarityThreshold,
			MinQuality:          defaultMinQuality,
			MinUniqueness:       defaultMinUniqueness,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentSources: defaultMaxConcurrentSources,
			QueueSize:            defaultQueueSize,
			FailureThreshold:     defaultFailureThreshold,
			CheckInterval:        defaultCheckInterval,
		},
		Metrics: MetricsConfig{
			Port: getEnv("METRICS_PORT", defaultMetricsPort),
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid DATABASE_DRIVER: must be 'postgres' or 'sqlite'")
	}

	var err error
	if cfg.Rewrite.Timeout, err = secondsFromEnv("REWRITE_TIMEOUT_SECONDS", cfg.Rewrite.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.Rewrite.Backoff, err = secondsFromEnv("REWRITE_BACKOFF_SECONDS", cfg.Rewrite.Backoff); err != nil {
		return Config{}, err
	}
	if cfg.Pipeline.RunTimeout, err = secondsFromEnv("RUN_TIMEOUT_SECONDS", cfg.Pipeline.RunTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.CheckInterval, err = secondsFromEnv("SCHEDULER_CHECK_INTERVAL_SECONDS", cfg.Scheduler.CheckInterval); err != nil {
		return Config{}, err
	}

	if cfg.Pipeline.MaxCandidates, err = positiveIntFromEnv("MAX_CANDIDATES_PER_RUN", cfg.Pipeline.MaxCandidates); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.MaxConcurrentSources, err = positiveIntFromEnv("MAX_CONCURRENT_SOURCES", cfg.Scheduler.MaxConcurrentSources); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.QueueSize, err = positiveIntFromEnv("SCHEDULER_QUEUE_SIZE", cfg.Scheduler.QueueSize); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.FailureThreshold, err = positiveIntFromEnv("FAILURE_THRESHOLD", cfg.Scheduler.FailureThreshold); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		f, err := parseFraction(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SIMILARITY_THRESHOLD: %w", err)
		}
		cfg.Pipeline.SimilarityThreshold = f
	}

	if v := os.Getenv("MIN_QUALITY"); v != "" {
		f, err := parseScore(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MIN_QUALITY: %w", err)
		}
		cfg.Pipeline.MinQuality = f
	}

	if v := os.Getenv("MIN_UNIQUENESS"); v != "" {
		f, err := parseScore(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MIN_UNIQUENESS: %w", err)
		}
		cfg.Pipeline.MinUniqueness = f
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

func secondsFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := parseSeconds(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func positiveIntFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseFraction(raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 || f > 1 {
		return 0, fmt.Errorf("must be a number in (0, 1]")
	}
	return f, nil
}

func parseScore(raw string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 100 {
		return 0, fmt.Errorf("must be a number between 0 and 100")
	}
	return f, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
