package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"librarian/internal/engine"
	"librarian/internal/gate"
	"librarian/internal/history"
	"librarian/internal/planner"
	"librarian/internal/repos"
	"librarian/internal/review"
	"librarian/internal/selector"
	"librarian/internal/usecase"
)

// RepoHandler receives each repository's sub-report as soon as the
// repository finishes. It may be called concurrently.
type RepoHandler func(ctx context.Context, rep *RepoReport) error

// Inputs are the loaded documents a review works from.
type Inputs struct {
	// Catalog is already filtered to the configured id range.
	Catalog []usecase.UseCase
	Repos   []repos.Entry
	History history.Snapshot
}

// Scheduler drives review runs.
type Scheduler struct {
	factory  engine.Factory
	opts     Options
	logger   *slog.Logger
	observer review.Observer
	onRepo   RepoHandler
	now      func() time.Time
}

// New creates a scheduler. factory may be nil for dry runs.
func New(factory engine.Factory, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ParallelRepos < 1 {
		opts.ParallelRepos = 1
	}
	return &Scheduler{
		factory:  factory,
		opts:     opts,
		logger:   logger,
		observer: review.NewLogObserver(logger),
		now:      time.Now,
	}
}

// SetObserver replaces the progress observer.
func (s *Scheduler) SetObserver(o review.Observer) {
	s.observer = o
}

// OnRepoFinished registers the sub-report handler.
func (s *Scheduler) OnRepoFinished(h RepoHandler) {
	s.onRepo = h
}

// prepared is the execution-independent part of a run.
type prepared struct {
	report *Report
	byName map[string]repos.Entry
}

// prepare selects use cases, distributes them and plans every repository
// that received work.
func (s *Scheduler) prepare(in Inputs) *prepared {
	rep := &Report{
		RunID:       uuid.NewString(),
		StartedAt:   s.now().UTC(),
		Options:     s.opts,
		Assignments: make(map[string][]string),
		Plan:        []planner.RepoPlan{},
		Results:     []review.RunResult{},
		Exploration: Exploration{Findings: []review.ExplorationFinding{}},
	}

	stats := in.History.Stats()
	rep.History = HistoryInfo{
		Present:  in.History.Present,
		Source:   in.History.Source,
		Records:  len(in.History.Records),
		UseCases: len(stats),
	}

	var sel selector.Inputs
	if s.opts.SelectionMode.UsesHistory() {
		sel = selector.Inputs{History: stats}
	}
	rep.SelectedUseCases = selector.Select(in.Catalog, s.opts.MaxUseCases, s.opts.SelectionMode, sel)

	names := make([]string, 0, len(in.Repos))
	byName := make(map[string]repos.Entry, len(in.Repos))
	for _, r := range in.Repos {
		names = append(names, r.Name)
		byName[r.Name] = r
	}

	perRepoCap := s.opts.MaxRunsPerRepo
	if perRepoCap <= 0 {
		perRepoCap = len(rep.SelectedUseCases)
	}
	assignments := planner.Distribute(rep.SelectedUseCases, names, perRepoCap)

	planOpts := planner.Options{Progressive: s.opts.Progressive, MaxRunsPerRepo: s.opts.MaxRunsPerRepo}
	for _, name := range planner.AssignedRepos(assignments, names) {
		targets := assignments[name]
		ids := make([]string, len(targets))
		for i, uc := range targets {
			ids[i] = uc.ID
		}
		rep.Assignments[name] = ids

		plan := planner.PlanRepo(name, in.Catalog, targets, planOpts)
		if plan.Fallback {
			s.logger.Warn("Progressive plan exceeds budget, using target-only plan",
				"repo", name,
				"budget", s.opts.MaxRunsPerRepo,
			)
		}
		if len(plan.Unresolved) > 0 {
			s.logger.Warn("Dependency cycle in plan", "repo", name, "ids", plan.Unresolved)
		}
		rep.Plan = append(rep.Plan, plan)
	}

	s.logger.Info("Review planned",
		"runId", rep.RunID,
		"selected", len(rep.SelectedUseCases),
		"repos", len(rep.Plan),
		"mode", string(s.opts.SelectionMode),
	)

	return &prepared{report: rep, byName: byName}
}

// Plan computes selection, distribution and plans without executing
// anything.
func (s *Scheduler) Plan(in Inputs) *Report {
	p := s.prepare(in)
	p.report.DryRun = true
	p.report.FinishedAt = s.now().UTC()
	return p.report
}

// Run executes a full review. On cancellation the partial report is
// returned together with the cancellation error.
func (s *Scheduler) Run(ctx context.Context, in Inputs) (*Report, error) {
	if s.factory == nil {
		return nil, fmt.Errorf("scheduler has no engine factory")
	}

	p := s.prepare(in)
	rep := p.report
	executor := review.NewExecutor(s.factory, review.Options{
		InitTimeout:        s.opts.InitTimeout,
		QueryTimeout:       s.opts.QueryTimeout,
		Deterministic:      s.opts.Deterministic,
		ExplorationIntents: s.opts.ExplorationIntents,
	}, s.observer)

	outcomes := make([]review.RepoOutcome, len(rep.Plan))
	done := make([]bool, len(rep.Plan))
	runErr := s.executeAll(ctx, executor, p, outcomes, done)

	for i := range rep.Plan {
		if !done[i] {
			continue
		}
		rep.Results = append(rep.Results, outcomes[i].Results...)
		rep.Exploration.Findings = append(rep.Exploration.Findings, outcomes[i].Findings...)
	}

	rep.Summary = review.Summarize(rep.Results, rep.Plan)
	rep.Exploration.Summary = review.SummarizeExploration(rep.Exploration.Findings)
	rep.Gate = gate.Evaluate(rep.Summary, s.opts.Thresholds)
	rep.FinishedAt = s.now().UTC()
	if runErr != nil {
		rep.Error = runErr.Error()
	}

	s.logger.Info("Review finished",
		"runId", rep.RunID,
		"runs", rep.Summary.TotalRuns,
		"passRate", rep.Summary.PassRate,
		"gatePassed", rep.Gate.Passed,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).String(),
	)

	return rep, runErr
}

// executeAll runs every planned repository, ParallelRepos at a time. Steps
// inside one repository stay sequential.
func (s *Scheduler) executeAll(ctx context.Context, ex *review.Executor, p *prepared, outcomes []review.RepoOutcome, done []bool) error {
	if s.opts.ParallelRepos <= 1 {
		for i := range p.report.Plan {
			err := s.executeOne(ctx, ex, p, i, outcomes, done)
			if err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ParallelRepos)
	for i := range p.report.Plan {
		g.Go(func() error {
			return s.executeOne(gctx, ex, p, i, outcomes, done)
		})
	}
	return g.Wait()
}

func (s *Scheduler) executeOne(ctx context.Context, ex *review.Executor, p *prepared, i int, outcomes []review.RepoOutcome, done []bool) error {
	plan := p.report.Plan[i]
	entry := p.byName[plan.Repo]

	s.logger.Info("Reviewing repository",
		"repo", plan.Repo,
		"steps", len(plan.Items),
		"targets", plan.Targets(),
	)

	outcome, err := ex.ExecuteRepo(ctx, plan.Repo, entry.Path, plan)
	outcomes[i] = outcome
	done[i] = true

	if s.onRepo != nil {
		sub := &RepoReport{
			RunID:      p.report.RunID,
			Repo:       plan.Repo,
			Path:       entry.Path,
			State:      outcome.State,
			FinishedAt: s.now().UTC(),
			Plan:       plan,
			Results:    outcome.Results,
			Findings:   outcome.Findings,
			Summary:    review.Summarize(outcome.Results, []planner.RepoPlan{plan}),
		}
		if err != nil {
			sub.Error = err.Error()
		}
		if hookErr := s.onRepo(context.WithoutCancel(ctx), sub); hookErr != nil {
			s.logger.Error("Failed to write repository report",
				"repo", plan.Repo,
				"error", hookErr.Error(),
			)
		}
	}

	return err
}
