package review

import (
	"context"
	"strings"
	"time"

	"librarian/internal/engine"
	reviewerrors "librarian/internal/errors"
	"librarian/internal/planner"
)

// Options controls how each repository is executed.
type Options struct {
	InitTimeout        time.Duration `json:"initTimeout"`
	QueryTimeout       time.Duration `json:"queryTimeout"`
	Deterministic      bool          `json:"deterministic"`
	ExplorationIntents []string      `json:"explorationIntents"`
}

// RepoOutcome is everything one repository produced.
type RepoOutcome struct {
	Repo     string               `json:"repo"`
	State    RepoState            `json:"state"`
	Results  []RunResult          `json:"results"`
	Findings []ExplorationFinding `json:"findings"`
}

// Executor runs repository plans one step at a time.
type Executor struct {
	factory  engine.Factory
	opts     Options
	observer Observer
}

// NewExecutor creates an executor. A nil observer discards events.
func NewExecutor(factory engine.Factory, opts Options, observer Observer) *Executor {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Executor{factory: factory, opts: opts, observer: observer}
}

// repoRun is the mutable state of a single repository execution.
type repoRun struct {
	e       *Executor
	outcome RepoOutcome
	passed  map[string]bool
	cascade string
}

func (r *repoRun) setState(state RepoState) {
	r.outcome.State = state
	r.e.observer.RepoStateChanged(r.outcome.Repo, state)
}

func (r *repoRun) record(result RunResult) {
	r.passed[result.UseCaseID] = result.Success
	r.outcome.Results = append(r.outcome.Results, result)
	r.e.observer.StepFinished(result)
}

// readiness computes missing prerequisites for item. Prerequisite steps
// are always considered ready.
func (r *repoRun) readiness(plan planner.RepoPlan, item planner.PlanItem) (bool, []string) {
	missing := []string{}
	if !item.IsTarget() {
		return true, missing
	}
	for _, dep := range plan.Closures[item.ID] {
		if !r.passed[dep] {
			missing = append(missing, dep)
		}
	}
	return len(missing) == 0, missing
}

func newResult(repo string, item planner.PlanItem) RunResult {
	return RunResult{
		Repo:          repo,
		UseCaseID:     item.ID,
		Domain:        item.Domain,
		Intent:        IntentFor(item),
		StepKind:      item.StepKind,
		StrictSignals: []string{},
		Errors:        []string{},
	}
}

func cancelled(ctx context.Context) error {
	return reviewerrors.New(reviewerrors.Cancelled, "review cancelled", context.Cause(ctx))
}

// ExecuteRepo runs plan against repository name rooted at root. The engine
// is shut down on every return path. When ctx is cancelled between steps
// the outcome so far is returned together with a cancelled error.
func (e *Executor) ExecuteRepo(ctx context.Context, name, root string, plan planner.RepoPlan) (RepoOutcome, error) {
	r := &repoRun{
		e:       e,
		outcome: RepoOutcome{Repo: name, Results: []RunResult{}, Findings: []ExplorationFinding{}},
		passed:  make(map[string]bool, len(plan.Items)),
	}
	r.setState(StateIdle)

	if ctx.Err() != nil {
		return r.outcome, cancelled(ctx)
	}

	r.setState(StateReadinessCheck)
	eng, err := e.factory(name)
	if err == nil {
		defer eng.Shutdown()
		_, err = withTimeout(ctx, e.opts.InitTimeout, reviewerrors.InitTimeout, "initialization",
			func(c context.Context) (struct{}, error) {
				return struct{}{}, eng.Initialize(c, root)
			})
	}
	if err != nil {
		r.setState(StateNotReady)
		r.failAll(plan, err.Error())
		r.setState(StateAllStepsFailed)
		return r.outcome, nil
	}

	r.setState(StateReady)
	r.setState(StateExecuting)
	for _, item := range plan.Items {
		if ctx.Err() != nil {
			return r.outcome, cancelled(ctx)
		}
		r.step(ctx, eng, plan, item)
	}

	for _, intent := range e.explorationIntents() {
		if ctx.Err() != nil {
			return r.outcome, cancelled(ctx)
		}
		r.explore(ctx, eng, intent)
	}

	r.setState(StateDone)
	return r.outcome, nil
}

func (e *Executor) explorationIntents() []string {
	if e.opts.ExplorationIntents != nil {
		return e.opts.ExplorationIntents
	}
	return DefaultExplorationIntents
}

// failAll records every planned step as failed with the readiness error.
func (r *repoRun) failAll(plan planner.RepoPlan, msg string) {
	for _, item := range plan.Items {
		result := newResult(r.outcome.Repo, item)
		result.DependencyReady, result.MissingPrerequisites = r.readiness(plan, item)
		result.Errors = []string{msg}
		r.record(result)
	}
}

func (r *repoRun) step(ctx context.Context, eng engine.Engine, plan planner.RepoPlan, item planner.PlanItem) {
	result := newResult(r.outcome.Repo, item)
	result.DependencyReady, result.MissingPrerequisites = r.readiness(plan, item)

	if r.cascade != "" {
		result.Errors = []string{r.cascade}
		if len(result.MissingPrerequisites) > 0 {
			result.Errors = append(result.Errors, "prerequisite_not_satisfied:"+strings.Join(result.MissingPrerequisites, ","))
		}
		r.record(result)
		return
	}

	start := time.Now()
	resp, err := r.e.query(ctx, eng, result.Intent)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		msg := err.Error()
		result.Errors = []string{msg}
		if reviewerrors.IsFailFast(msg) {
			r.cascade = msg
			r.e.observer.CascadeTriggered(r.outcome.Repo, item.ID, msg)
		}
		r.record(result)
		return
	}

	result.PackCount = resp.PackCount
	result.EvidenceCount = resp.EvidenceCount
	result.HasUsefulSummary = resp.HasUsefulSummary
	result.TotalConfidence = resp.TotalConfidence
	result.StrictSignals = StrictSignals(resp)
	result.Success = classify(resp, result.StrictSignals)
	r.record(result)
}

func (r *repoRun) explore(ctx context.Context, eng engine.Engine, intent string) {
	finding := ExplorationFinding{
		Repo:          r.outcome.Repo,
		Intent:        intent,
		StrictSignals: []string{},
		Errors:        []string{},
		Citations:     []engine.Citation{},
	}

	// After a cascade the finding carries the cascade error and no query runs.
	if r.cascade != "" {
		finding.Errors = []string{r.cascade}
		r.outcome.Findings = append(r.outcome.Findings, finding)
		r.e.observer.ExplorationFinished(finding)
		return
	}

	resp, err := r.e.query(ctx, eng, intent)
	if err != nil {
		finding.Errors = []string{err.Error()}
	} else {
		finding.PackCount = resp.PackCount
		finding.EvidenceCount = resp.EvidenceCount
		finding.HasUsefulSummary = resp.HasUsefulSummary
		finding.TotalConfidence = resp.TotalConfidence
		finding.StrictSignals = StrictSignals(resp)
		finding.Success = classify(resp, finding.StrictSignals)
		finding.Summary = resp.Summary
		if resp.Citations != nil {
			finding.Citations = resp.Citations
		}
	}

	r.outcome.Findings = append(r.outcome.Findings, finding)
	r.e.observer.ExplorationFinished(finding)
}

func (e *Executor) query(ctx context.Context, eng engine.Engine, intent string) (*engine.Response, error) {
	resp, err := withTimeout(ctx, e.opts.QueryTimeout, reviewerrors.QueryTimeout, "query",
		func(c context.Context) (*engine.Response, error) {
			return eng.Query(c, engine.Request{Intent: intent, Deterministic: e.opts.Deterministic})
		})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, reviewerrors.New(reviewerrors.QueryFailed, "engine returned no response", nil)
	}
	return resp, nil
}
