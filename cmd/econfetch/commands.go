package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fcat-validator/econfetch/internal/config"
	"github.com/fcat-validator/econfetch/internal/schedule"
	"github.com/fcat-validator/econfetch/pkg/cache"
	"github.com/fcat-validator/econfetch/pkg/catalog"
	"github.com/fcat-validator/econfetch/pkg/credentials"
	"github.com/fcat-validator/econfetch/pkg/fetch"
	"github.com/fcat-validator/econfetch/pkg/logging"
	"github.com/fcat-validator/econfetch/pkg/pacing"
	"github.com/fcat-validator/econfetch/pkg/runner"
	"github.com/fcat-validator/econfetch/pkg/storage"
)

var (
	runConcurrency int
	runFailOnError bool
	runMetricsAddr string
	scheduleCron   string
	historyLimit   int
)

func init() {
	fetchCmd := &cobra.Command{
		Use:   "fetch SLUG...",
		Short: "Download all years of the named datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}
	fetchCmd.Flags().BoolVar(&runFailOnError, "fail-on-error", false, "exit nonzero when any year failed")
	rootCmd.AddCommand(fetchCmd)

	runAllCmd := &cobra.Command{
		Use:   "run-all",
		Short: "Download every dataset in the catalog",
		RunE:  runAll,
	}
	runAllCmd.Flags().IntVar(&runConcurrency, "concurrency", 1, "datasets processed in parallel")
	runAllCmd.Flags().BoolVar(&runFailOnError, "fail-on-error", false, "exit nonzero when any dataset or year failed")
	runAllCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	rootCmd.AddCommand(runAllCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the dataset catalog",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show reports of past runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to show, newest first (0 = all)")
	rootCmd.AddCommand(historyCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the full download on a cron schedule",
		Long: `schedule keeps the process alive and starts a full download run
whenever the cron expression fires. A run still in flight when the next
firing arrives is never overlapped; the firing is skipped.`,
		RunE: runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "0 6 * * *", "cron expression (minute hour dom month dow)")
	scheduleCmd.Flags().IntVar(&runConcurrency, "concurrency", 1, "datasets processed in parallel")
	scheduleCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(scheduleCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultFileName
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	// Flags win over the config file, but only when actually given.
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logPretty {
		cfg.Logging.Pretty = true
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Run.Concurrency = runConcurrency
	}
	if cmd.Flags().Changed("fail-on-error") {
		cfg.Run.FailOnError = runFailOnError
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Run.MetricsAddr = runMetricsAddr
	}
	return cfg, nil
}

// deps bundles the wired components behind the download commands.
type deps struct {
	cfg    *config.Config
	logger zerolog.Logger
	runner *runner.Runner
	redis  *redis.Client
}

func buildDeps(cfg *config.Config) (*deps, error) {
	logger := logging.Setup(cfg.LoggingConfig())

	pacer := pacing.New(logging.NewLogger("pacing"), cfg.PacingOverrides())

	var payloadCache *cache.Cache
	var redisClient *redis.Client
	if cfg.CacheEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		payloadCache = cache.New(redisClient, cfg.CacheTTL())
		logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Payload cache enabled")
	}

	fetcher, err := fetch.New(fetch.Config{
		Pacer:  pacer,
		Policy: cfg.RetryPolicy(),
		Cache:  payloadCache,
		Logger: logging.NewLogger("fetch"),
	})
	if err != nil {
		return nil, err
	}

	run, err := runner.New(runner.Config{
		Fetcher:     fetcher,
		Credentials: credentials.NewResolver(cfg.Credentials.SecretsFile),
		Store:       storage.New(cfg.Output.BaseDir),
		Logger:      logging.NewLogger("runner"),
	})
	if err != nil {
		return nil, err
	}

	return &deps{cfg: cfg, logger: logger, runner: run, redis: redisClient}, nil
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()
	return ctx, cancel
}

// serveMetrics exposes the Prometheus registry for the lifetime of the
// surrounding command. Startup failures are logged, not fatal: metrics
// never block a download run.
func serveMetrics(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	datasets, err := cfg.Datasets()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(d.logger)
	defer cancel()

	var failed bool
	for _, slug := range args {
		if ctx.Err() != nil {
			break
		}
		descriptor, ok := catalog.Find(datasets, slug)
		if !ok {
			return fmt.Errorf("unknown dataset %q (see 'econfetch list')", slug)
		}

		summary, err := d.runner.RunDataset(ctx, descriptor)
		if err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%s: %v\n", slug, err)
			continue
		}
		if summary.Totals.Error > 0 {
			failed = true
		}
		fmt.Printf("%s: %d ok, %d failed -> %s\n",
			slug, summary.Totals.OK, summary.Totals.Error, d.runner.Store().SummaryPath(slug))
	}

	if cfg.Run.FailOnError && failed {
		return fmt.Errorf("one or more datasets had failures")
	}
	return nil
}

func runAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	datasets, err := cfg.Datasets()
	if err != nil {
		return err
	}

	if cfg.Run.MetricsAddr != "" {
		srv := serveMetrics(cfg.Run.MetricsAddr, d.logger)
		defer srv.Close()
	}

	ctx, cancel := signalContext(d.logger)
	defer cancel()

	orch := runner.NewOrchestrator(d.runner, cfg.Run.Concurrency, logging.NewLogger("orchestrator"))
	report, err := orch.RunAll(ctx, datasets)
	if err != nil {
		return err
	}

	printReport(os.Stdout, report, report.ReportPath(d.runner.Store()))

	if cfg.Run.FailOnError && report.HasFailures() {
		return fmt.Errorf("run %s finished with failures", report.RunID)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	datasets, err := cfg.Datasets()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tSOURCE\tSERIES\tCREDENTIAL")
	for _, d := range datasets {
		cred := "-"
		switch d.Source.Credential() {
		case catalog.CredentialRequired:
			cred = d.Source.CredentialEnvKey() + " (required)"
		case catalog.CredentialOptional:
			cred = d.Source.CredentialEnvKey() + " (optional)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Slug(), d.Source, d.SeriesID, cred)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d datasets, years %d-%d\n", len(datasets), catalog.StartYear, catalog.EndYear)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reports, err := loadRunReports(filepath.Join(cfg.Output.BaseDir, storage.RunsDirName))
	if err != nil {
		return err
	}
	return printHistory(os.Stdout, reports, historyLimit)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	d, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	datasets, err := cfg.Datasets()
	if err != nil {
		return err
	}

	sched, err := schedule.New(scheduleCron, logging.NewLogger("schedule"))
	if err != nil {
		return err
	}

	if cfg.Run.MetricsAddr != "" {
		srv := serveMetrics(cfg.Run.MetricsAddr, d.logger)
		defer srv.Close()
	}

	ctx, cancel := signalContext(d.logger)
	defer cancel()

	orch := runner.NewOrchestrator(d.runner, cfg.Run.Concurrency, logging.NewLogger("orchestrator"))
	sched.Start(ctx, func(runCtx context.Context) error {
		report, err := orch.RunAll(runCtx, datasets)
		if err != nil {
			return err
		}
		if report.HasFailures() {
			d.logger.Warn().
				Str("run_id", report.RunID).
				Int("error_years", report.Totals.ErrorYears).
				Msg("Scheduled run finished with failures")
		}
		return nil
	})
	return nil
}

func printReport(w io.Writer, report *runner.RunReport, reportPath string) {
	slugs := make([]string, 0, len(report.Datasets))
	for slug := range report.Datasets {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSTATUS\tOK\tFAILED\tNOTE")
	for _, slug := range slugs {
		entry := report.Datasets[slug]
		if entry.Totals != nil {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				slug, entry.Status, entry.Totals.OK, entry.Totals.Error, entry.Message)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t%s\n", slug, entry.Status, entry.Message)
		}
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d datasets, %d years ok, %d years failed\nreport: %s\n",
		report.Totals.Datasets, report.Totals.OKYears, report.Totals.ErrorYears, reportPath)
}

// loadRunReports reads every run report under dir, newest first.
// Unparseable files are skipped rather than failing the listing.
func loadRunReports(dir string) ([]runner.RunReport, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "run_all_*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]runner.RunReport, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var report runner.RunReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].RunStartedAt.After(reports[j].RunStartedAt)
	})
	return reports, nil
}

func printHistory(w io.Writer, reports []runner.RunReport, limit int) error {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tDATASETS\tOK\tFAILED\tRUN ID")
	for _, r := range reports {
		duration := r.RunFinishedAt.Sub(r.RunStartedAt).Round(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.RunStartedAt.Format(time.RFC3339), duration,
			r.Totals.Datasets, r.Totals.OKYears, r.Totals.ErrorYears, r.RunID)
	}
	return tw.Flush()
}
