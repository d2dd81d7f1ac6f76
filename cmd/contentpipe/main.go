package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/warsite/contentpipe/internal/analysis"
	"github.com/warsite/contentpipe/internal/config"
	"github.com/warsite/contentpipe/internal/database"
	"github.com/warsite/contentpipe/internal/dedup"
	"github.com/warsite/contentpipe/internal/fetcher"
	"github.com/warsite/contentpipe/internal/logging"
	"github.com/warsite/contentpipe/internal/metrics"
	"github.com/warsite/contentpipe/internal/models"
	"github.com/warsite/contentpipe/internal/pipeline"
	"github.com/warsite/contentpipe/internal/rewrite"
	"github.com/warsite/contentpipe/internal/scheduler"
)

var (
	envFile      string
	pipelinePath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "contentpipe",
		Short:         "Fetch, rewrite, score and store content from configured sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// missing .env is fine
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&pipelinePath, "config", "", "pipeline YAML file (overrides PIPELINE_CONFIG)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	dialect   database.Dialect
	file      *config.PipelineFile
	sources   *database.SourceRepository
	items     *database.ItemRepository
	collector *metrics.Collector
	scheduler *scheduler.Scheduler
	options   pipeline.Options
}

// openStore loads configuration, connects to the database and applies migrations.
func openStore(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if pipelinePath != "" {
		cfg.Pipeline.ConfigPath = pipelinePath
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	dbCfg := database.DefaultConfig()
	dbCfg.Driver = database.Dialect(cfg.Database.Driver)
	dbCfg.URL = cfg.Database.URL

	logger.Info("connecting to database", "driver", dbCfg.Driver)
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	version, err := database.RunMigrations(db, dbCfg.Driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database ready", "schema_version", version)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		dialect: dbCfg.Driver,
		sources: database.NewSourceRepository(db, dbCfg.Driver),
		items:   database.NewItemRepository(db, dbCfg.Driver),
	}, nil
}

// loadSources reads the pipeline file and mirrors its sources into the registry.
func (a *app) loadSources(ctx context.Context) error {
	file, err := config.LoadPipelineFile(a.cfg.Pipeline.ConfigPath)
	if err != nil {
		return err
	}
	for _, w := range file.Warnings {
		a.logger.Warn("pipeline config warning", "warning", w)
	}
	if err := a.sources.SyncFromConfig(ctx, file.Sources); err != nil {
		return fmt.Errorf("failed to sync sources: %w", err)
	}
	a.file = file
	a.logger.Info("sources synced from config", "path", a.cfg.Pipeline.ConfigPath, "sources", len(file.Sources))
	return nil
}

// buildPipeline wires fetchers, the duplicate detector, the rewrite client,
// the analyzer and the scheduler.
func (a *app) buildPipeline(ctx context.Context) error {
	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	a.collector = collector

	dedupCfg := dedup.DefaultConfig()
	dedupCfg.Threshold = a.cfg.Pipeline.SimilarityThreshold
	detector := dedup.NewDetector(a.items, dedupCfg, a.logger)

	known, err := a.sources.List(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(known))
	for _, src := range known {
		ids = append(ids, src.ID)
	}
	if err := detector.Warm(ctx, a.items, ids); err != nil {
		return err
	}

	// nil service: every rewrite falls back to the original text
	var service rewrite.Service
	if a.cfg.OpenAI.APIKey != "" {
		openai, err := rewrite.NewOpenAIService(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.Model, a.cfg.OpenAI.BaseURL)
		if err != nil {
			return err
		}
		service = openai
	} else {
		a.logger.Warn("OPENAI_API_KEY not set, rewrites will fall back to the original text")
	}

	rewriter := rewrite.NewClient(service, rewrite.Config{
		Timeout:     a.cfg.Rewrite.Timeout,
		Backoff:     a.cfg.Rewrite.Backoff,
		TitlePrompt: a.file.Prompts.Title,
		BodyPrompt:  a.file.Prompts.Body,
	}, a.logger, collector)

	categories := make([]analysis.Category, 0, len(a.file.Categories))
	for _, c := range a.file.Categories {
		categories = append(categories, analysis.Category{Name: c.Name, Weight: c.Weight, Keywords: c.Keywords})
	}
	analyzer := analysis.NewAnalyzer(analysis.Config{
		Weights:        a.file.Quality.Weights,
		MinWords:       a.file.Quality.MinWords,
		MaxWords:       a.file.Quality.MaxWords,
		DomainKeywords: a.file.DomainKeywords,
		Categories:     categories,
	}, a.logger)

	registry := fetcher.NewRegistry()
	// the per-run cap travels with the fetch context
	registry.Register(models.SourceKindTextFeed, fetcher.NewFeedFetcher(fetcher.FeedConfig{Known: a.items}, a.logger))
	registry.Register(models.SourceKindVideoFeed, fetcher.NewVideoFetcher(fetcher.VideoConfig{}, a.logger))

	orchestrator := pipeline.New(pipeline.Dependencies{
		Fetcher:    registry,
		Detector:   detector,
		Rewriter:   rewriter,
		Analyzer:   analyzer,
		Store:      a.items,
		Metrics:    collector,
		FetchRetry: pipeline.DefaultRetryPolicy(),
	}, a.logger)

	a.options = pipeline.Options{
		Thresholds: a.file.ApplyThresholds(models.Thresholds{
			MinQuality:    a.cfg.Pipeline.MinQuality,
			MinUniqueness: a.cfg.Pipeline.MinUniqueness,
		}),
		MaxCandidates: a.cfg.Pipeline.MaxCandidates,
		Timeout:       a.cfg.Pipeline.RunTimeout,
	}

	a.scheduler = scheduler.New(orchestrator, a.sources, collector, scheduler.Config{
		MaxConcurrentSources: a.cfg.Scheduler.MaxConcurrentSources,
		QueueSize:            a.cfg.Scheduler.QueueSize,
		FailureThreshold:     a.cfg.Scheduler.FailureThreshold,
		CheckInterval:        a.cfg.Scheduler.CheckInterval,
		RunOptions:           a.options,
	}, a.logger)
	return nil
}

// bootstrap prepares everything a run or the scheduler needs.
func bootstrap(ctx context.Context) (*app, error) {
	a, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.loadSources(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildPipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}
