// Package review executes per-repository use-case plans against a query
// engine and reduces the outcomes into summary statistics.
package review

import (
	"librarian/internal/engine"
	"librarian/internal/planner"
)

// RunResult is the outcome of one planned step in one repository.
type RunResult struct {
	Repo                 string           `json:"repo"`
	UseCaseID            string           `json:"useCaseId"`
	Domain               string           `json:"domain"`
	Intent               string           `json:"intent"`
	StepKind             planner.StepKind `json:"stepKind"`
	Success              bool             `json:"success"`
	DependencyReady      bool             `json:"dependencyReady"`
	MissingPrerequisites []string         `json:"missingPrerequisites"`
	PackCount            int              `json:"packCount"`
	EvidenceCount        int              `json:"evidenceCount"`
	HasUsefulSummary     bool             `json:"hasUsefulSummary"`
	TotalConfidence      float64          `json:"totalConfidence"`
	StrictSignals        []string         `json:"strictSignals"`
	Errors               []string         `json:"errors"`
	DurationMs           int64            `json:"durationMs"`
}

// ExplorationFinding is the outcome of an open-ended probe. Findings are
// reported but never gated.
type ExplorationFinding struct {
	Repo             string            `json:"repo"`
	Intent           string            `json:"intent"`
	Success          bool              `json:"success"`
	PackCount        int               `json:"packCount"`
	EvidenceCount    int               `json:"evidenceCount"`
	HasUsefulSummary bool              `json:"hasUsefulSummary"`
	TotalConfidence  float64           `json:"totalConfidence"`
	StrictSignals    []string          `json:"strictSignals"`
	Errors           []string          `json:"errors"`
	Summary          *string           `json:"summary"`
	Citations        []engine.Citation `json:"citations"`
}

// RepoState tracks a repository through execution.
type RepoState string

const (
	StateIdle           RepoState = "idle"
	StateReadinessCheck RepoState = "readiness_check"
	StateReady          RepoState = "ready"
	StateNotReady       RepoState = "not_ready"
	StateExecuting      RepoState = "executing"
	StateAllStepsFailed RepoState = "all_steps_failed"
	StateDone           RepoState = "done"
)

// DefaultExplorationIntents are the open-ended probes run after each
// repository's planned steps.
var DefaultExplorationIntents = []string{
	"Give a high-level overview of this repository: its purpose, main entry points and how the major components fit together.",
	"Which areas of this codebase look most fragile or risky to change, and why?",
	"What important behavior in this repository appears to be untested or undocumented?",
}

// IntentFor returns the query text for a use case.
func IntentFor(item planner.PlanItem) string {
	if item.Need != "" {
		return item.Need
	}
	return item.Domain + " " + item.ID
}

// classify applies the success rule shared by planned steps and findings.
func classify(resp *engine.Response, strict []string) bool {
	if resp == nil {
		return false
	}
	return resp.PackCount > 0 && resp.EvidenceCount > 0 && resp.HasUsefulSummary && len(strict) == 0
}
