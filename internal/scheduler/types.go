// Package scheduler runs use-case reviews: it selects use cases, spreads
// them across repositories, plans each repository and executes the plans.
package scheduler

import (
	"time"

	"librarian/internal/gate"
	"librarian/internal/history"
	"librarian/internal/planner"
	"librarian/internal/review"
	"librarian/internal/selector"
	"librarian/internal/usecase"
)

// Options are the resolved run options of a review.
type Options struct {
	Range              usecase.Range   `json:"range"`
	MaxUseCases        int             `json:"maxUseCases"`
	MaxRepos           int             `json:"maxRepos"`
	SelectionMode      selector.Mode   `json:"selectionMode"`
	Progressive        bool            `json:"progressivePrerequisites"`
	Deterministic      bool            `json:"deterministic"`
	MaxRunsPerRepo     int             `json:"maxRunsPerRepo"`
	InitTimeout        time.Duration   `json:"initTimeout"`
	QueryTimeout       time.Duration   `json:"queryTimeout"`
	ParallelRepos      int             `json:"parallelRepos"`
	ExplorationIntents []string        `json:"explorationIntents,omitempty"`
	Thresholds         gate.Thresholds `json:"thresholds"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Range:          usecase.Range{Start: 1},
		MaxUseCases:    0,
		SelectionMode:  selector.ModeSequential,
		Progressive:    true,
		Deterministic:  true,
		MaxRunsPerRepo: 12,
		InitTimeout:    2 * time.Minute,
		QueryTimeout:   90 * time.Second,
		ParallelRepos:  1,
		Thresholds:     gate.DefaultThresholds(),
	}
}

// HistoryInfo describes the history that fed selection.
type HistoryInfo struct {
	Present  bool   `json:"present"`
	Source   string `json:"source,omitempty"`
	Records  int    `json:"records"`
	UseCases int    `json:"useCases"`
}

// Exploration groups the ungated exploration output.
type Exploration struct {
	Findings []review.ExplorationFinding `json:"findings"`
	Summary  review.ExplorationSummary   `json:"summary"`
}

// Report is the complete outcome of a review run.
type Report struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DryRun     bool      `json:"dryRun,omitempty"`

	Options Options     `json:"options"`
	History HistoryInfo `json:"history"`

	SelectedUseCases []usecase.UseCase   `json:"selectedUseCases"`
	Assignments      map[string][]string `json:"assignments"`
	Plan             []planner.RepoPlan  `json:"plan"`

	Results     []review.RunResult `json:"results"`
	Exploration Exploration        `json:"exploration"`
	Summary     review.Summary     `json:"summary"`
	Gate        gate.Gate          `json:"gate"`

	// Error is set when the run stopped early, e.g. on cancellation.
	Error string `json:"error,omitempty"`
}

// RepoReport is the sub-report written as soon as one repository finishes.
type RepoReport struct {
	RunID      string                      `json:"runId"`
	Repo       string                      `json:"repo"`
	Path       string                      `json:"path"`
	State      review.RepoState            `json:"state"`
	FinishedAt time.Time                   `json:"finishedAt"`
	Plan       planner.RepoPlan            `json:"plan"`
	Results    []review.RunResult          `json:"results"`
	Findings   []review.ExplorationFinding `json:"findings"`
	Summary    review.Summary              `json:"summary"`
	Error      string                      `json:"error,omitempty"`
}

// HistoryRecords converts the report's results into history records.
func (r *Report) HistoryRecords() []history.Record {
	records := make([]history.Record, len(r.Results))
	for i, res := range r.Results {
		ready := res.DependencyReady
		records[i] = history.Record{
			Repo:            res.Repo,
			UseCaseID:       res.UseCaseID,
			Success:         res.Success,
			StrictSignals:   res.StrictSignals,
			DependencyReady: &ready,
		}
	}
	return records
}
