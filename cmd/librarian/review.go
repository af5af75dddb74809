package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"librarian/internal/config"
	"librarian/internal/engine/httpengine"
	"librarian/internal/metrics"
	"librarian/internal/report"
	"librarian/internal/review"
	"librarian/internal/scheduler"
	"librarian/internal/slogutil"
)

// runFlags are the review options shared by review and plan.
type runFlags struct {
	start          int
	end            int
	maxUseCases    int
	maxRepos       int
	maxRunsPerRepo int
	mode           string
	noProgressive  bool
	format         string
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&f.start, "start", 0, "First use-case number to consider")
	flags.IntVar(&f.end, "end", 0, "Last use-case number to consider (0: no limit)")
	flags.IntVar(&f.maxUseCases, "max-use-cases", 0, "Maximum number of target use cases (0: all)")
	flags.IntVar(&f.maxRepos, "max-repos", 0, "Maximum number of repositories (0: all)")
	flags.IntVar(&f.maxRunsPerRepo, "max-runs-per-repo", 0, "Step budget per repository")
	flags.StringVar(&f.mode, "mode", "", "Selection mode: sequential, uncertainty, balanced, adaptive, probabilistic")
	flags.BoolVar(&f.noProgressive, "no-progressive", false, "Run targets without their prerequisites")
	flags.StringVar(&f.format, "format", "human", "Output format (human, json)")
}

// apply copies every flag the user set onto cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("start") {
		cfg.Catalog.RangeStart = f.start
	}
	if flags.Changed("end") {
		cfg.Catalog.RangeEnd = f.end
	}
	if flags.Changed("max-use-cases") {
		cfg.Review.MaxUseCases = f.maxUseCases
	}
	if flags.Changed("max-repos") {
		cfg.Repos.MaxRepos = f.maxRepos
	}
	if flags.Changed("max-runs-per-repo") {
		cfg.Review.MaxRunsPerRepo = f.maxRunsPerRepo
	}
	if flags.Changed("mode") {
		cfg.Review.SelectionMode = f.mode
	}
	if flags.Changed("no-progressive") {
		cfg.Review.Progressive = !f.noProgressive
	}
}

var (
	reviewRun         runFlags
	reviewParallel    int
	reviewQueryTO     time.Duration
	reviewInitTO      time.Duration
	reviewEngineURL   string
	reviewReportDir   string
	reviewCompress    bool
	reviewNoRecord    bool
	reviewMetricsFile string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run a use-case review and evaluate the release gate",
	Long: `Select use cases from the catalog, spread them across repositories, plan
each repository with its prerequisites and execute the plans against the query
engine. The results are aggregated and checked against the gate thresholds.

Per-repository reports are written as each repository finishes; the full
report, the history store and the metrics textfile are written at the end.
The command exits with status 1 when the gate fails.

Examples:
  librarian review
  librarian review --mode adaptive --max-use-cases 40
  librarian review --max-repos 2 --parallel 2 --format json`,
	RunE: runReview,
}

func init() {
	reviewRun.register(reviewCmd)
	flags := reviewCmd.Flags()
	flags.IntVar(&reviewParallel, "parallel", 0, "Repositories to review concurrently")
	flags.DurationVar(&reviewQueryTO, "query-timeout", 0, "Per-query timeout")
	flags.DurationVar(&reviewInitTO, "init-timeout", 0, "Engine initialization timeout")
	flags.StringVar(&reviewEngineURL, "engine-url", "", "Query engine base URL")
	flags.StringVar(&reviewReportDir, "report-dir", "", "Directory for reports")
	flags.BoolVar(&reviewCompress, "compress", false, "zstd-compress written reports")
	flags.BoolVar(&reviewNoRecord, "no-record", false, "Do not append results to the history store")
	flags.StringVar(&reviewMetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	rootCmd.AddCommand(reviewCmd)
}

func applyReviewFlags(cmd *cobra.Command, cfg *config.Config) {
	reviewRun.apply(cmd, cfg)
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		cfg.Review.ParallelRepos = reviewParallel
	}
	if flags.Changed("query-timeout") {
		cfg.Review.QueryTimeout = reviewQueryTO
	}
	if flags.Changed("init-timeout") {
		cfg.Review.InitTimeout = reviewInitTO
	}
	if flags.Changed("engine-url") {
		cfg.Engine.URL = reviewEngineURL
	}
	if flags.Changed("report-dir") {
		cfg.Report.Dir = reviewReportDir
	}
	if flags.Changed("compress") {
		cfg.Report.Compress = reviewCompress
	}
	if flags.Changed("no-record") {
		cfg.History.Record = !reviewNoRecord
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.Textfile = reviewMetricsFile
	}
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyReviewFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts, err := cfg.SchedulerOptions()
	if err != nil {
		return err
	}

	writer := newReportWriter(cfg)
	logFile, err := slogutil.OpenLogFile(filepath.Join(writer.Dir(), "review.log"))
	if err != nil {
		return fmt.Errorf("failed to open review log: %w", err)
	}
	defer func() { _ = logFile.Close() }()
	logger := newLogger(cfg, logFile)

	ctx, stop := newSignalContext()
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	in, err := loadInputs(ctx, cfg, opts, store, logger)
	if err != nil {
		return err
	}

	factory := httpengine.Factory(cfg.Engine, logger)
	recorder := metrics.NewRecorder()
	s := scheduler.New(factory, opts, logger)
	s.SetObserver(review.MultiObserver{review.NewLogObserver(logger), recorder})
	s.OnRepoFinished(writer.WriteRepo)

	rep, runErr := s.Run(ctx, in)
	if rep == nil {
		return runErr
	}

	path, err := writer.Write(rep)
	if err != nil {
		return err
	}
	logger.Info("Report written", "path", path)

	if store != nil && cfg.History.Record && runErr == nil {
		if err := store.Append(ctx, rep.RunID, rep.HistoryRecords(), rep.FinishedAt); err != nil {
			logger.Error("Failed to record history", "error", err.Error())
		}
	}

	if cfg.Metrics.Textfile != "" {
		recorder.Observe(rep)
		if err := recorder.WriteTextfile(resolvePath(cfg.Metrics.Textfile)); err != nil {
			logger.Error("Failed to write metrics", "error", err.Error())
		}
	}

	if err := printReport(rep, reviewRun.format); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if !rep.Gate.Passed {
		return &gateFailedError{reasons: rep.Gate.Reasons}
	}
	return nil
}

func printReport(rep *scheduler.Report, format string) error {
	if format == "json" {
		return printJSON(rep)
	}
	fmt.Print(report.FormatReport(rep))
	return nil
}
