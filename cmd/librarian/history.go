package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"librarian/internal/history"
)

var (
	historyFormat  string
	historyRuns    bool
	historyReports []string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show per-use-case history and uncertainty",
	Long: `Print the counters the adaptive selection modes work from: runs,
successes, failures, strict failures, unready dependencies and the resulting
uncertainty score per use case.

Examples:
  librarian history
  librarian history --runs
  librarian history --report old-report.json.zst --format json`,
	RunE: runHistory,
}

func init() {
	flags := historyCmd.Flags()
	flags.StringVar(&historyFormat, "format", "human", "Output format (human, json)")
	flags.BoolVar(&historyRuns, "runs", false, "List recorded runs instead of use-case counters")
	flags.StringArrayVar(&historyReports, "report", nil, "Additional report to merge (repeatable)")
	rootCmd.AddCommand(historyCmd)
}

type historyEntry struct {
	UseCaseID   string  `json:"useCaseId"`
	Runs        int     `json:"runs"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	Strict      int     `json:"strictFailures"`
	NotReady    int     `json:"dependencyNotReady"`
	Uncertainty float64 `json:"uncertainty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, nil)
	ctx := cmd.Context()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	if historyRuns {
		if store == nil {
			return fmt.Errorf("history store is disabled (history.dbDir is empty)")
		}
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		if historyFormat == "json" {
			return printJSON(runs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tRECORDED\tRESULTS")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\n", r.ID, r.RecordedAt.Format("2006-01-02 15:04:05"), r.Results)
		}
		return w.Flush()
	}

	snapshots := make([]history.Snapshot, 0, len(historyReports)+1)
	base, err := loadHistory(ctx, cfg, store)
	if err != nil {
		return err
	}
	snapshots = append(snapshots, base)
	for _, p := range historyReports {
		s, err := history.Load(p)
		if err != nil {
			return err
		}
		snapshots = append(snapshots, s)
	}
	merged := history.Merge(snapshots...)

	stats := merged.Stats()
	entries := make([]historyEntry, 0, len(stats))
	for _, id := range stats.IDs() {
		c := stats[id]
		entries = append(entries, historyEntry{
			UseCaseID:   id,
			Runs:        c.Runs,
			Successes:   c.Successes,
			Failures:    c.Failures,
			Strict:      c.StrictFailures,
			NotReady:    c.DependencyNotReady,
			Uncertainty: history.Uncertainty(c),
		})
	}

	if historyFormat == "json" {
		return printJSON(entries)
	}
	if !merged.Present {
		fmt.Println("No history found.")
		return nil
	}
	fmt.Printf("Sources: %s\n\n", merged.Source)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "USE CASE\tRUNS\tPASS\tFAIL\tSTRICT\tNOT READY\tUNCERTAINTY\t")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.3f\t\n", e.UseCaseID, e.Runs, e.Successes, e.Failures, e.Strict, e.NotReady, e.Uncertainty)
	}
	return w.Flush()
}
