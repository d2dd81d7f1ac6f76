package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warsite/contentpipe/internal/database"
	"github.com/warsite/contentpipe/internal/decision"
	"github.com/warsite/contentpipe/internal/models"
	"github.com/warsite/contentpipe/internal/pipeline"
	"github.com/warsite/contentpipe/internal/scheduler"
	"github.com/warsite/contentpipe/internal/server"
)

// runFlags are the per-invocation overrides of the run command.
type runFlags struct {
	source        string
	minQuality    float64
	minUniqueness float64
	dryRun        bool
	timeout       time.Duration
	maxCandidates int
}

// apply overlays the flags the operator actually set onto base.
func (f runFlags) apply(cmd *cobra.Command, base pipeline.Options) (pipeline.Options, error) {
	opts := base
	flags := cmd.Flags()
	if flags.Changed("min-quality") {
		opts.Thresholds.MinQuality = f.minQuality
	}
	if flags.Changed("min-uniqueness") {
		opts.Thresholds.MinUniqueness = f.minUniqueness
	}
	if flags.Changed("timeout") {
		opts.Timeout = f.timeout
	}
	if flags.Changed("max-candidates") {
		opts.MaxCandidates = f.maxCandidates
	}
	opts.DryRun = f.dryRun

	if err := decision.ValidateThresholds(opts.Thresholds); err != nil {
		return pipeline.Options{}, err
	}
	if opts.Timeout < 0 {
		return pipeline.Options{}, fmt.Errorf("invalid timeout %v: must not be negative", opts.Timeout)
	}
	if opts.MaxCandidates < 0 {
		return pipeline.Options{}, fmt.Errorf("invalid max candidates %d: must not be negative", opts.MaxCandidates)
	}
	return opts, nil
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once for every enabled source, or one source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts, err := f.apply(cmd, a.options)
			if err != nil {
				return err
			}

			results, err := a.scheduler.RunAll(ctx, scheduler.Filter{Source: f.source}, opts)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.source, "source", "", "source ID or name (default: all enabled sources)")
	cmd.Flags().Float64Var(&f.minQuality, "min-quality", models.DefaultMinQuality, "minimum quality score to accept (0-100)")
	cmd.Flags().Float64Var(&f.minUniqueness, "min-uniqueness", models.DefaultMinUniqueness, "minimum uniqueness score to accept (0-100)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report decisions without persisting or rescheduling")
	cmd.Flags().DurationVar(&f.timeout, "timeout", pipeline.DefaultRunTimeout, "wall-clock limit per source run")
	cmd.Flags().IntVar(&f.maxCandidates, "max-candidates", pipeline.DefaultMaxCandidates, "maximum candidates processed per run")
	return cmd
}

func printResults(w io.Writer, results []models.RunResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSEEN\tDUPLICATE\tAI FAILED\tREJECTED\tACCEPTED\tELAPSED\tSTATUS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.SourceID, r.Seen, r.Duplicate, r.AIFailed, r.Rejected, r.Accepted,
			r.Elapsed.Round(time.Millisecond), resultStatus(r))
	}
	tw.Flush()

	for _, r := range results {
		for _, e := range r.Errors {
			if e.Kind.OperatorVisible() {
				fmt.Fprintf(w, "%s: %s: %s\n", r.SourceID, e.Kind, e.Message)
			}
		}
		if !r.DryRun {
			continue
		}
		fmt.Fprintf(w, "\n%s (dry run)\n", r.SourceID)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DECISION\tQUALITY\tUNIQUENESS\tCATEGORIES\tTITLE")
		for _, o := range r.Outcomes {
			fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%s\t%s\n",
				o.Reason, o.QualityScore, o.UniquenessScore, strings.Join(o.Categories, ","), truncate(o.Title, 60))
		}
		tw.Flush()
	}
}

func resultStatus(r models.RunResult) string {
	switch {
	case r.TimedOut:
		return pipeline.StatusTimeout
	case r.Failed():
		return pipeline.StatusFailed
	default:
		return pipeline.StatusSuccess
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run sources on their adaptive schedule and serve /metrics and /healthz",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(context.Background())
			if err != nil {
				return err
			}
			defer a.Close()

			routes := server.Routes(a.collector.Handler(), func(ctx context.Context) error {
				return database.HealthCheck(ctx, a.db)
			})
			srv := server.New(server.Config{Port: a.cfg.Metrics.Port}, a.logger, a.collector.InstrumentHandler(routes))

			go func() {
				if err := srv.Start(); err != nil {
					a.logger.Error("server error", "error", err)
				}
			}()

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				a.scheduler.Start(ctx)
				close(done)
			}()

			waitForSignal(a.logger)

			a.logger.Info("shutting down")
			cancel()
			<-done
			if err := srv.Shutdown(context.Background()); err != nil {
				a.logger.Error("shutdown error", "error", err)
			}
			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and manage the source registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sources with their schedule state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.loadSources(ctx); err != nil {
				return err
			}

			sources, err := a.sources.List(ctx)
			if err != nil {
				return err
			}
			printSources(cmd.OutOrStdout(), sources)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "enable [id]",
		Short: "Re-enable a source disabled after repeated failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sources.Enable(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "source %s enabled\n", args[0])
			return nil
		},
	})

	return cmd
}

func printSources(w io.Writer, sources []models.Source) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tPRIORITY\tENABLED\tINTERVAL\tNEXT RUN\tFAILURES\tDISABLED REASON")
	for _, s := range sources {
		next := "due"
		if s.NextRunAt != nil {
			next = s.NextRunAt.Local().Format(time.DateTime)
		}
		if !s.Enabled {
			next = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%d\t%s\n",
			s.ID, s.GetDisplayName(), s.Kind, s.Priority, s.Enabled, s.Interval, next, s.ConsecutiveFailures, s.DisabledReason)
	}
	tw.Flush()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(context.Background())
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
