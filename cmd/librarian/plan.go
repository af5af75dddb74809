package main

import (
	"github.com/spf13/cobra"

	"librarian/internal/scheduler"
)

var planRun runFlags

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a review would run without executing it",
	Long: `Perform selection, distribution and planning exactly as 'librarian review'
would, then print the per-repository plans. No query engine is contacted.

Examples:
  librarian plan
  librarian plan --mode balanced --max-use-cases 20 --max-runs-per-repo 8
  librarian plan --format json`,
	RunE: runPlan,
}

func init() {
	planRun.register(planCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	planRun.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts, err := cfg.SchedulerOptions()
	if err != nil {
		return err
	}

	logger := newLogger(cfg, nil)
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

	rep := scheduler.New(nil, opts, logger).Plan(in)
	return printReport(rep, planRun.format)
}
