package review

import (
	"log/slog"
	"strings"
)

// Observer receives progress events from the executor. Implementations must
// be safe for concurrent use when repositories run in parallel.
type Observer interface {
	RepoStateChanged(repo string, state RepoState)
	StepFinished(result RunResult)
	CascadeTriggered(repo, useCaseID, cause string)
	ExplorationFinished(finding ExplorationFinding)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) RepoStateChanged(string, RepoState)      {}
func (NopObserver) StepFinished(RunResult)                  {}
func (NopObserver) CascadeTriggered(string, string, string) {}
func (NopObserver) ExplorationFinished(ExplorationFinding)  {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) RepoStateChanged(repo string, state RepoState) {
	for _, o := range m {
		o.RepoStateChanged(repo, state)
	}
}

func (m MultiObserver) StepFinished(result RunResult) {
	for _, o := range m {
		o.StepFinished(result)
	}
}

func (m MultiObserver) CascadeTriggered(repo, useCaseID, cause string) {
	for _, o := range m {
		o.CascadeTriggered(repo, useCaseID, cause)
	}
}

func (m MultiObserver) ExplorationFinished(finding ExplorationFinding) {
	for _, o := range m {
		o.ExplorationFinished(finding)
	}
}

// LogObserver writes events to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) RepoStateChanged(repo string, state RepoState) {
	o.Logger.Debug("Repository state changed", "repo", repo, "state", string(state))
}

func (o *LogObserver) StepFinished(r RunResult) {
	attrs := []any{
		"repo", r.Repo,
		"useCase", r.UseCaseID,
		"stepKind", string(r.StepKind),
		"success", r.Success,
		"dependencyReady", r.DependencyReady,
		"durationMs", r.DurationMs,
	}
	if len(r.StrictSignals) > 0 {
		attrs = append(attrs, "strictSignals", strings.Join(r.StrictSignals, ","))
	}
	if len(r.Errors) > 0 {
		attrs = append(attrs, "error", r.Errors[0])
	}
	if r.Success {
		o.Logger.Info("Use case passed", attrs...)
		return
	}
	o.Logger.Warn("Use case failed", attrs...)
}

func (o *LogObserver) CascadeTriggered(repo, useCaseID, cause string) {
	o.Logger.Warn("Fail-fast cascade triggered", "repo", repo, "useCase", useCaseID, "cause", cause)
}

func (o *LogObserver) ExplorationFinished(f ExplorationFinding) {
	o.Logger.Info("Exploration finished",
		"repo", f.Repo,
		"success", f.Success,
		"evidence", f.EvidenceCount,
		"citations", len(f.Citations),
	)
}
