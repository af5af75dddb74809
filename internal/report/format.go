package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"librarian/internal/review"
	"librarian/internal/scheduler"
	"librarian/internal/usecase"
)

// maxFailedShown caps the failed-run listing of FormatReport.
const maxFailedShown = 20

// FormatReport generates a human-readable report.
func FormatReport(rep *scheduler.Report) string {
	var sb strings.Builder
	s := rep.Summary

	sb.WriteString("=== Librarian Review Report ===\n\n")
	fmt.Fprintf(&sb, "Run ID:      %s\n", rep.RunID)
	if rep.DryRun {
		sb.WriteString("Mode:        dry run\n")
	}
	fmt.Fprintf(&sb, "Selection:   %s (%d use cases)\n", rep.Options.SelectionMode, len(rep.SelectedUseCases))
	fmt.Fprintf(&sb, "Repos:       %d\n", len(rep.Plan))
	if rep.History.Present {
		fmt.Fprintf(&sb, "History:     %d records, %d use cases\n", rep.History.Records, rep.History.UseCases)
	}
	if !rep.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "Duration:    %v\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	}
	sb.WriteString("\n")

	if rep.DryRun {
		formatPlans(&sb, rep)
		return sb.String()
	}

	fmt.Fprintf(&sb, "Total Runs:  %d\n", s.TotalRuns)
	fmt.Fprintf(&sb, "Passed:      %d (%.1f%%)\n", s.PassedRuns, s.PassRate*100)
	fmt.Fprintf(&sb, "Evidence:    %.1f%%\n", s.EvidenceRate*100)
	fmt.Fprintf(&sb, "Useful:      %.1f%%\n", s.UsefulSummaryRate*100)
	fmt.Fprintf(&sb, "Strict:      %.1f%%\n", s.StrictFailureShare*100)
	if s.TotalRuns > 0 {
		fmt.Fprintf(&sb, "Confidence:  mean %.3f, median %.3f, p90 %.3f\n", s.Confidence.Mean, s.Confidence.Median, s.Confidence.P90)
	}
	sb.WriteString("\n")

	if p := s.Progression; p.Enabled {
		sb.WriteString("Progression:\n")
		fmt.Fprintf(&sb, "  Prerequisites: %d/%d (%.1f%%)\n", p.PrerequisitePassed, p.PrerequisiteRuns, p.PrerequisitePassRate*100)
		fmt.Fprintf(&sb, "  Targets:       %d/%d (%.1f%%)\n", p.TargetPassed, p.TargetRuns, p.TargetPassRate*100)
		fmt.Fprintf(&sb, "  Deps ready:    %d/%d (%.1f%%)\n", p.TargetDependencyReadyRuns, p.TargetRuns, p.TargetDependencyReadyShare*100)
		for _, layer := range sortedLayers(p.ByLayer) {
			ls := p.ByLayer[layer]
			fmt.Fprintf(&sb, "  %-8s       %d/%d (%.1f%%)\n", string(layer)+":", ls.Passed, ls.Runs, ls.PassRate*100)
		}
		sb.WriteString("\n")
	}

	if len(s.ByDomain) > 0 {
		sb.WriteString("By Domain:\n")
		for _, domain := range sortedKeys(s.ByDomain) {
			r := s.ByDomain[domain]
			fmt.Fprintf(&sb, "  %s: %d/%d (%.1f%%)\n", domain, r.PassedRuns, r.TotalRuns, r.PassRate*100)
		}
		sb.WriteString("\n")
	}

	if len(s.StrictSignalCounts) > 0 {
		sb.WriteString("Strict Signals:\n")
		for _, label := range sortedKeys(s.StrictSignalCounts) {
			fmt.Fprintf(&sb, "  %s: %d\n", label, s.StrictSignalCounts[label])
		}
		sb.WriteString("\n")
	}

	formatFailures(&sb, rep.Results)

	if e := rep.Exploration.Summary; e.Total > 0 {
		fmt.Fprintf(&sb, "Exploration: %d/%d successful, %d citations\n\n", e.Successful, e.Total, e.Citations)
	}

	if rep.Error != "" {
		fmt.Fprintf(&sb, "Stopped early: %s\n\n", rep.Error)
	}

	if rep.Gate.Passed {
		sb.WriteString("Gate: PASSED\n")
	} else {
		sb.WriteString("Gate: FAILED\n")
		for _, reason := range rep.Gate.Reasons {
			fmt.Fprintf(&sb, "  - %s\n", reason)
		}
	}

	return sb.String()
}

func formatPlans(sb *strings.Builder, rep *scheduler.Report) {
	if len(rep.Plan) == 0 {
		sb.WriteString("No repository received work.\n")
		return
	}
	for _, plan := range rep.Plan {
		fmt.Fprintf(sb, "%s (%d steps", plan.Repo, len(plan.Items))
		if plan.Fallback {
			sb.WriteString(", budget fallback")
		}
		sb.WriteString("):\n")
		for i, item := range plan.Items {
			fmt.Fprintf(sb, "  %2d. %s %-12s %s %s\n", i+1, item.ID, item.StepKind, item.Layer, item.Domain)
		}
		if len(plan.Unresolved) > 0 {
			fmt.Fprintf(sb, "  cyclic: %s\n", strings.Join(plan.Unresolved, ", "))
		}
		sb.WriteString("\n")
	}
}

func formatFailures(sb *strings.Builder, results []review.RunResult) {
	failed := make([]review.RunResult, 0)
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return
	}

	sb.WriteString("Failed Runs:\n")
	for _, r := range failed[:min(maxFailedShown, len(failed))] {
		fmt.Fprintf(sb, "  [%s %s] %s\n", r.Repo, r.UseCaseID, r.StepKind)
		fmt.Fprintf(sb, "    Intent: %q\n", r.Intent)
		if len(r.MissingPrerequisites) > 0 {
			fmt.Fprintf(sb, "    Missing: %v\n", r.MissingPrerequisites)
		}
		if len(r.StrictSignals) > 0 {
			fmt.Fprintf(sb, "    Strict: %v\n", r.StrictSignals)
		}
		for _, e := range r.Errors {
			fmt.Fprintf(sb, "    Error: %s\n", e)
		}
	}
	if len(failed) > maxFailedShown {
		fmt.Fprintf(sb, "  ... and %d more\n", len(failed)-maxFailedShown)
	}
	sb.WriteString("\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedLayers(m map[usecase.Layer]review.LayerStats) []usecase.Layer {
	layers := make([]usecase.Layer, 0, len(m))
	for l := range m {
		layers = append(layers, l)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i] < layers[j] })
	return layers
}
