package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"librarian/internal/gate"
	"librarian/internal/report"
)

var (
	gateFormat     string
	gateThresholds struct {
		minPassRate, minEvidenceRate, minUsefulSummaryRate, maxStrictFailureShare float64
		minPrerequisitePassRate, minTargetPassRate, minTargetDependencyReadyShare float64
	}
)

var gateCmd = &cobra.Command{
	Use:   "gate [report]",
	Short: "Re-evaluate the release gate of a stored report",
	Long: `Load a review report and evaluate its summary against the configured
thresholds, optionally overriding individual thresholds. Without an argument
the report in the configured report directory is used.

Examples:
  librarian gate
  librarian gate .librarian/reports/review-report.json.zst
  librarian gate --min-pass-rate 0.9 --max-strict-failure-share 0.05`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGate,
}

func init() {
	flags := gateCmd.Flags()
	flags.StringVar(&gateFormat, "format", "human", "Output format (human, json)")
	flags.Float64Var(&gateThresholds.minPassRate, "min-pass-rate", 0, "Minimum pass rate")
	flags.Float64Var(&gateThresholds.minEvidenceRate, "min-evidence-rate", 0, "Minimum evidence rate")
	flags.Float64Var(&gateThresholds.minUsefulSummaryRate, "min-useful-summary-rate", 0, "Minimum useful summary rate")
	flags.Float64Var(&gateThresholds.maxStrictFailureShare, "max-strict-failure-share", 0, "Maximum strict failure share")
	flags.Float64Var(&gateThresholds.minPrerequisitePassRate, "min-prerequisite-pass-rate", 0, "Minimum prerequisite pass rate")
	flags.Float64Var(&gateThresholds.minTargetPassRate, "min-target-pass-rate", 0, "Minimum target pass rate")
	flags.Float64Var(&gateThresholds.minTargetDependencyReadyShare, "min-target-dependency-ready-share", 0, "Minimum share of targets with ready dependencies")
	rootCmd.AddCommand(gateCmd)
}

func gateOverrides(cmd *cobra.Command) gate.Overrides {
	var o gate.Overrides
	set := func(name string, value float64, dst **float64) {
		if cmd.Flags().Changed(name) {
			v := value
			*dst = &v
		}
	}
	t := gateThresholds
	set("min-pass-rate", t.minPassRate, &o.MinPassRate)
	set("min-evidence-rate", t.minEvidenceRate, &o.MinEvidenceRate)
	set("min-useful-summary-rate", t.minUsefulSummaryRate, &o.MinUsefulSummaryRate)
	set("max-strict-failure-share", t.maxStrictFailureShare, &o.MaxStrictFailureShare)
	set("min-prerequisite-pass-rate", t.minPrerequisitePassRate, &o.MinPrerequisitePassRate)
	set("min-target-pass-rate", t.minTargetPassRate, &o.MinTargetPassRate)
	set("min-target-dependency-ready-share", t.minTargetDependencyReadyShare, &o.MinTargetDependencyReadyShare)
	return o
}

func runGate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := newReportWriter(cfg).ReportPath()
	if len(args) == 1 {
		path = args[0]
	}
	rep, err := report.Load(path)
	if err != nil {
		return err
	}

	thresholds := cfg.Thresholds.Merge(gateOverrides(cmd))
	if err := thresholds.Validate(); err != nil {
		return err
	}
	result := gate.Evaluate(rep.Summary, thresholds)

	if gateFormat == "json" {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		fmt.Printf("Report: %s (run %s, %d runs)\n", path, rep.RunID, rep.Summary.TotalRuns)
		if result.Passed {
			fmt.Println("Gate: PASSED")
		} else {
			fmt.Println("Gate: FAILED")
			for _, reason := range result.Reasons {
				fmt.Printf("  - %s\n", reason)
			}
		}
	}

	if !result.Passed {
		return &gateFailedError{reasons: result.Reasons}
	}
	return nil
}
