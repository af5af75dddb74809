package review

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"librarian/internal/engine"
	reviewerrors "librarian/internal/errors"
	"librarian/internal/planner"
	"librarian/internal/usecase"
)

type fakeReply struct {
	resp  *engine.Response
	err   error
	delay time.Duration
}

type fakeEngine struct {
	mu        sync.Mutex
	initErr   error
	initDelay time.Duration
	replies   map[string]fakeReply
	queries   []string
	shutdowns int
}

func goodResponse() *engine.Response {
	return &engine.Response{PackCount: 1, EvidenceCount: 2, HasUsefulSummary: true, TotalConfidence: 0.9}
}

func (f *fakeEngine) Initialize(ctx context.Context, repoRoot string) error {
	if f.initDelay > 0 {
		time.Sleep(f.initDelay)
	}
	return f.initErr
}

func (f *fakeEngine) Query(ctx context.Context, req engine.Request) (*engine.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req.Intent)
	reply, ok := f.replies[req.Intent]
	f.mu.Unlock()

	if !ok {
		return goodResponse(), nil
	}
	if reply.delay > 0 {
		time.Sleep(reply.delay)
	}
	return reply.resp, reply.err
}

func (f *fakeEngine) Shutdown() {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
}

func factoryFor(f *fakeEngine) engine.Factory {
	return func(string) (engine.Engine, error) { return f, nil }
}

// recordingObserver captures states and cascades.
type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	states   []RepoState
	cascades []string
}

func (o *recordingObserver) RepoStateChanged(repo string, state RepoState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) CascadeTriggered(repo, id, cause string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cascades = append(o.cascades, id)
}

func item(id string, kind planner.StepKind, deps ...string) planner.PlanItem {
	return planner.PlanItem{
		UseCase:  usecase.UseCase{ID: id, Domain: "nav", Need: "need " + id, Dependencies: deps},
		StepKind: kind,
		Layer:    usecase.LayerOf(id),
	}
}

func chainPlan() planner.RepoPlan {
	return planner.RepoPlan{
		Repo: "alpha",
		Items: []planner.PlanItem{
			item("UC-001", planner.StepPrerequisite),
			item("UC-002", planner.StepTarget, "UC-001"),
			item("UC-003", planner.StepTarget, "UC-002"),
		},
		Closures: map[string][]string{
			"UC-001": {},
			"UC-002": {"UC-001"},
			"UC-003": {"UC-002", "UC-001"},
		},
	}
}

func noExploration() Options {
	return Options{ExplorationIntents: []string{}}
}

func TestExecuteRepoAllPass(t *testing.T) {
	eng := &fakeEngine{}
	obs := &recordingObserver{}
	opts := Options{ExplorationIntents: []string{"explore"}}

	out, err := NewExecutor(factoryFor(eng), opts, obs).ExecuteRepo(context.Background(), "alpha", "/repos/alpha", chainPlan())
	if err != nil {
		t.Fatalf("ExecuteRepo() error = %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(out.Results))
	}
	for _, r := range out.Results {
		if !r.Success || !r.DependencyReady || len(r.MissingPrerequisites) != 0 {
			t.Errorf("result %s = %+v", r.UseCaseID, r)
		}
	}
	if len(out.Findings) != 1 || !out.Findings[0].Success {
		t.Errorf("Findings = %+v", out.Findings)
	}
	if out.State != StateDone {
		t.Errorf("State = %s, want done", out.State)
	}
	wantStates := []RepoState{StateIdle, StateReadinessCheck, StateReady, StateExecuting, StateDone}
	if !reflect.DeepEqual(obs.states, wantStates) {
		t.Errorf("states = %v, want %v", obs.states, wantStates)
	}
	if eng.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", eng.shutdowns)
	}
}

func TestExecuteRepoCascade(t *testing.T) {
	eng := &fakeEngine{replies: map[string]fakeReply{
		"need UC-001": {err: errors.New("provider_unavailable")},
	}}
	obs := &recordingObserver{}

	out, err := NewExecutor(factoryFor(eng), noExploration(), obs).ExecuteRepo(context.Background(), "alpha", "/r", chainPlan())
	if err != nil {
		t.Fatalf("ExecuteRepo() error = %v", err)
	}

	for i, r := range out.Results {
		if r.Success {
			t.Errorf("result %d succeeded during cascade", i)
		}
		if r.Errors[0] != "provider_unavailable" {
			t.Errorf("result %d errors[0] = %q, want provider_unavailable", i, r.Errors[0])
		}
	}
	if got := out.Results[1].Errors; len(got) != 2 || got[1] != "prerequisite_not_satisfied:UC-001" {
		t.Errorf("UC-002 errors = %v", got)
	}
	if got := out.Results[2].Errors; len(got) != 2 || got[1] != "prerequisite_not_satisfied:UC-002,UC-001" {
		t.Errorf("UC-003 errors = %v", got)
	}
	if len(eng.queries) != 1 {
		t.Errorf("queries = %v, want only the first step", eng.queries)
	}
	if !reflect.DeepEqual(obs.cascades, []string{"UC-001"}) {
		t.Errorf("cascades = %v", obs.cascades)
	}
}

func TestExecuteRepoCascadeSkipsExplorationQueries(t *testing.T) {
	eng := &fakeEngine{replies: map[string]fakeReply{
		"need UC-001": {err: errors.New("provider_unavailable")},
	}}
	opts := Options{ExplorationIntents: []string{"overview", "hotspots"}}

	out, err := NewExecutor(factoryFor(eng), opts, nil).ExecuteRepo(context.Background(), "alpha", "/r", chainPlan())
	if err != nil {
		t.Fatalf("ExecuteRepo() error = %v", err)
	}
	if !reflect.DeepEqual(eng.queries, []string{"need UC-001"}) {
		t.Errorf("queries = %v, want only the first step", eng.queries)
	}
	if len(out.Findings) != 2 {
		t.Fatalf("len(Findings) = %d, want 2", len(out.Findings))
	}
	for _, f := range out.Findings {
		if f.Success || !reflect.DeepEqual(f.Errors, []string{"provider_unavailable"}) {
			t.Errorf("finding %s = %+v", f.Intent, f)
		}
	}
	if out.State != StateDone {
		t.Errorf("State = %s, want done", out.State)
	}
}

func TestExecuteRepoNonFailFastError(t *testing.T) {
	eng := &fakeEngine{replies: map[string]fakeReply{
		"need UC-001": {err: errors.New("index lookup failed")},
	}}

	out, err := NewExecutor(factoryFor(eng), noExploration(), nil).ExecuteRepo(context.Background(), "alpha", "/r", chainPlan())
	if err != nil {
		t.Fatalf("ExecuteRepo() error = %v", err)
	}
	if len(eng.queries) != 3 {
		t.Errorf("queries = %d, want 3", len(eng.queries))
	}
	r := out.Results[1]
	if r.DependencyReady || !reflect.DeepEqual(r.MissingPrerequisites, []string{"UC-001"}) {
		t.Errorf("UC-002 readiness = %v %v", r.DependencyReady, r.MissingPrerequisites)
	}
	if len(r.Errors) != 0 || !r.Success {
		t.Errorf("UC-002 should run and pass on its own: %+v", r)
	}
	if out.Results[2].DependencyReady {
		t.Error("UC-003 should not be dependency ready")
	}
}

func TestExecuteRepoReadinessFailure(t *testing.T) {
	eng := &fakeEngine{initErr: reviewerrors.New(reviewerrors.ProviderUnavailable, "embedding provider down", nil)}
	obs := &recordingObserver{}

	out, err := NewExecutor(factoryFor(eng), Options{}, obs).ExecuteRepo(context.Background(), "alpha", "/r", chainPlan())
	if err != nil {
		t.Fatalf("ExecuteRepo() error = %v", err)
	}
	if len(eng.queries) != 0 {
		t.Errorf("queries = %v, want none", eng.queries)
	}
	if out.State != StateAllStepsFailed {
		t.Errorf("State = %s", out.State)
	}
	for _, r := range out.Results {
		if r.Success || len(r.Errors) != 1 || !strings.Contains(r.Errors[0], "embedding provider down") {
			t.Errorf("result %s = %+v", r.UseCaseID, r)
		}
	}
	if !out.Results[0].DependencyReady || out.Results[1].DependencyReady {
		t.Error("prerequisites are always ready, targets depend on their closure")
	}
	if eng.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", eng.shutdowns)
	}
	if len(out.Findings) != 0 {
		t.Errorf("exploration should not run on a not-ready repo")
	}
}

func TestExecuteRepoFactoryFailure(t *testing.T) {
	factory := func(string) (engine.Engine, error) {
		return nil, errors.New("initialization failed: no credentials")
	}
	out, err := NewExecutor(factory, Options{}, nil).ExecuteRepo(context.Background(), "alpha", "/r", chainPlan())
	if err != nil {
		t.Fatalf("ExecuteRepo() error = %v", err)
	}
	if len(out.Results) != 3 || out.Results[2].Errors[0] != "initialization failed: no credentials" {
		t.Errorf("Results = %+v", out.Results)
	}
}

func TestExecuteRepoTimeouts(t *testing.T) {
	t.Run("init timeout", func(t *testing.T) {
		eng := &fakeEngine{initDelay: 200 * time.Millisecond}
		opts := Options{InitTimeout: 10 * time.Millisecond}

		out, err := NewExecutor(factoryFor(eng), opts, nil).ExecuteRepo(context.Background(), "alpha", "/r", chainPlan())
		if err != nil {
			t.Fatalf("ExecuteRepo() error = %v", err)
		}
		if !strings.Contains(out.Results[0].Errors[0], string(reviewerrors.InitTimeout)) {
			t.Errorf("errors = %v, want init_timeout", out.Results[0].Errors)
		}
	})

	t.Run("query timeout cascades", func(t *testing.T) {
		eng := &fakeEngine{replies: map[string]fakeReply{
			"need UC-002": {resp: goodResponse(), delay: 200 * time.Millisecond},
		}}
		opts := Options{QueryTimeout: 10 * time.Millisecond, ExplorationIntents: []string{}}

		out, err := NewExecutor(factoryFor(eng), opts, nil).ExecuteRepo(context.Background(), "alpha", "/r", chainPlan())
		if err != nil {
			t.Fatalf("ExecuteRepo() error = %v", err)
		}
		if !out.Results[0].Success {
			t.Errorf("UC-001 should pass: %+v", out.Results[0])
		}
		timeoutMsg := out.Results[1].Errors[0]
		if !reviewerrors.IsFailFast(timeoutMsg) || !strings.Contains(timeoutMsg, "query_timeout") {
			t.Errorf("UC-002 error = %q", timeoutMsg)
		}
		if out.Results[2].Errors[0] != timeoutMsg {
			t.Errorf("UC-003 errors[0] = %q, want cascaded %q", out.Results[2].Errors[0], timeoutMsg)
		}
	})
}

func TestExecuteRepoCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := &fakeEngine{}
	obs := &cancelAfterFirst{cancel: cancel}

	out, err := NewExecutor(factoryFor(eng), noExploration(), obs).ExecuteRepo(ctx, "alpha", "/r", chainPlan())
	if !reviewerrors.HasCode(err, reviewerrors.Cancelled) {
		t.Fatalf("ExecuteRepo() error = %v, want cancelled", err)
	}
	if len(out.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1 before cancellation", len(out.Results))
	}
	if eng.shutdowns != 1 {
		t.Errorf("engine must be released on cancellation, shutdowns = %d", eng.shutdowns)
	}
}

type cancelAfterFirst struct {
	NopObserver
	cancel context.CancelFunc
}

func (c *cancelAfterFirst) StepFinished(RunResult) { c.cancel() }

func TestExecuteRepoAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := &fakeEngine{}

	_, err := NewExecutor(factoryFor(eng), Options{}, nil).ExecuteRepo(ctx, "alpha", "/r", chainPlan())
	if !reviewerrors.HasCode(err, reviewerrors.Cancelled) {
		t.Fatalf("error = %v, want cancelled", err)
	}
	if eng.shutdowns != 0 {
		t.Error("engine should not be acquired after cancellation")
	}
}

func TestStrictSignals(t *testing.T) {
	tests := []struct {
		name string
		resp *engine.Response
		want []string
	}{
		{"nil", nil, []string{}},
		{"clean", goodResponse(), []string{}},
		{
			"flags",
			&engine.Response{Flags: map[string]bool{"fallbackUsed": true, "retried": true, "timedOut": false, "cacheMiss": true}},
			[]string{"cacheMiss", "fallback_used", "retry"},
		},
		{
			"text patterns",
			&engine.Response{
				Disclosures:       []string{"Used lexical FALLBACK search"},
				CoverageGaps:      []string{"degraded: vector index stale", "prerequisite_missing for UC-003"},
				DiagnosticReasons: []string{"provider_unavailable", "request timed out"},
			},
			[]string{"fallback", "degraded", "prerequisite_missing", "provider_unavailable", "timeout"},
		},
		{
			"benign unverified markers",
			&engine.Response{SynthesisUncertainties: []string{"unverified_by_trace(adequacy_missing)", "unverified_by_trace( watch_state_unavailable )"}},
			[]string{},
		},
		{
			"other unverified markers",
			&engine.Response{SynthesisUncertainties: []string{"unverified_by_trace(no_evidence)", "unverified_by_trace(llm_guess)"}},
			[]string{"unverified_by_trace"},
		},
		{
			"timeout spellings",
			&engine.Response{DiagnosticReasons: []string{"query timed out after 30s"}},
			[]string{"timeout"},
		},
		{
			"timeout with underscore",
			&engine.Response{Disclosures: []string{"stage=rerank status=time_out"}},
			[]string{"timeout"},
		},
		{
			"timeout inside other words",
			&engine.Response{Disclosures: []string{"runtime output was summarized from two files"}},
			[]string{},
		},
		{
			"time and out apart",
			&engine.Response{Disclosures: []string{"spent little time before laying out the modules"}},
			[]string{},
		},
		{
			"harmless text",
			&engine.Response{
				Disclosures:            []string{"retrieval covered 12 files"},
				CoverageGaps:           []string{"no gaps in the ranked pack"},
				SynthesisUncertainties: []string{"upgrade notes were skipped"},
			},
			[]string{},
		},
		{
			"unverified marker keeps its reason",
			&engine.Response{DiagnosticReasons: []string{"unverified_by_trace(provider_unavailable)"}},
			[]string{"unverified_by_trace", "provider_unavailable"},
		},
		{
			"benign marker next to real signal",
			&engine.Response{DiagnosticReasons: []string{"unverified_by_trace(adequacy_missing) then request timed out"}},
			[]string{"timeout"},
		},
		{
			"dedup across sources",
			&engine.Response{
				Flags:       map[string]bool{"retry": true},
				Disclosures: []string{"retrying with smaller pack", "validation_unavailable"},
			},
			[]string{"retry", "validation_unavailable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StrictSignals(tt.resp)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("StrictSignals() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if !classify(goodResponse(), nil) {
		t.Error("good response should pass")
	}
	if classify(goodResponse(), []string{"retry"}) {
		t.Error("strict signals must fail the run")
	}
	noEvidence := goodResponse()
	noEvidence.EvidenceCount = 0
	if classify(noEvidence, nil) {
		t.Error("missing evidence must fail the run")
	}
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	v, err := withTimeout(ctx, time.Second, reviewerrors.QueryTimeout, "query", func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Errorf("withTimeout() = %d, %v", v, err)
	}

	_, err = withTimeout(ctx, 5*time.Millisecond, reviewerrors.QueryTimeout, "query", func(c context.Context) (int, error) {
		<-c.Done()
		return 0, c.Err()
	})
	if !reviewerrors.HasCode(err, reviewerrors.QueryTimeout) {
		t.Errorf("withTimeout() error = %v, want query_timeout", err)
	}

	// Parent cancellation does not interrupt the call.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	v, err = withTimeout(cctx, time.Second, reviewerrors.QueryTimeout, "query", func(c context.Context) (int, error) {
		return 3, c.Err()
	})
	if err != nil || v != 3 {
		t.Errorf("withTimeout(cancelled parent) = %d, %v", v, err)
	}
}

func TestSummarize(t *testing.T) {
	plans := []planner.RepoPlan{chainPlan()}
	results := []RunResult{
		{Repo: "alpha", UseCaseID: "UC-001", Domain: "nav", StepKind: planner.StepPrerequisite, Success: true, DependencyReady: true, PackCount: 1, EvidenceCount: 1, HasUsefulSummary: true, TotalConfidence: 0.8, StrictSignals: []string{}},
		{Repo: "alpha", UseCaseID: "UC-002", Domain: "nav", StepKind: planner.StepTarget, Success: false, DependencyReady: true, EvidenceCount: 1, TotalConfidence: 0.4, StrictSignals: []string{"retry"}},
		{Repo: "alpha", UseCaseID: "UC-045", Domain: "search", StepKind: planner.StepTarget, Success: true, DependencyReady: false, PackCount: 1, EvidenceCount: 0, HasUsefulSummary: true, TotalConfidence: 0.6, StrictSignals: []string{}},
		{Repo: "alpha", UseCaseID: "UC-003", Domain: "search", StepKind: planner.StepTarget, Success: true, DependencyReady: true, PackCount: 1, EvidenceCount: 1, HasUsefulSummary: true, TotalConfidence: 1.0, StrictSignals: []string{}},
	}

	s := Summarize(results, plans)

	approx := func(name string, got, want float64) {
		t.Helper()
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}

	if s.TotalRuns != 4 || s.PassedRuns != 3 {
		t.Errorf("TotalRuns/PassedRuns = %d/%d", s.TotalRuns, s.PassedRuns)
	}
	approx("PassRate", s.PassRate, 0.75)
	approx("EvidenceRate", s.EvidenceRate, 0.75)
	approx("UsefulSummaryRate", s.UsefulSummaryRate, 0.75)
	approx("StrictFailureShare", s.StrictFailureShare, 0.25)

	approx("byDomain[nav].PassRate", s.ByDomain["nav"].PassRate, 0.5)
	approx("byDomain[search].PassRate", s.ByDomain["search"].PassRate, 1)

	p := s.Progression
	if !p.Enabled {
		t.Error("Progression.Enabled = false, want true")
	}
	if p.PrerequisiteRuns != 1 || p.TargetRuns != 3 {
		t.Errorf("runs = %d/%d", p.PrerequisiteRuns, p.TargetRuns)
	}
	approx("PrerequisitePassRate", p.PrerequisitePassRate, 1)
	approx("TargetPassRate", p.TargetPassRate, 2.0/3.0)
	approx("TargetDependencyReadyShare", p.TargetDependencyReadyShare, 2.0/3.0)

	if got := p.ByLayer[usecase.LayerL0]; got.Runs != 3 || got.Passed != 2 {
		t.Errorf("ByLayer[L0] = %+v", got)
	}
	if got := p.ByLayer[usecase.LayerL1]; got.Runs != 1 || got.PassRate != 1 {
		t.Errorf("ByLayer[L1] (id fallback) = %+v", got)
	}

	if s.StrictSignalCounts["retry"] != 1 {
		t.Errorf("StrictSignalCounts = %v", s.StrictSignalCounts)
	}
	approx("Confidence.Mean", s.Confidence.Mean, 0.7)
	approx("Confidence.Median", s.Confidence.Median, 0.7)
}

func TestSummarizeEmptyAndFlat(t *testing.T) {
	s := Summarize(nil, nil)
	if s.TotalRuns != 0 || s.PassRate != 0 || s.Progression.Enabled {
		t.Errorf("empty summary = %+v", s)
	}

	flat := planner.RepoPlan{Repo: "alpha", Items: []planner.PlanItem{item("UC-002", planner.StepTarget)}}
	s = Summarize([]RunResult{{Repo: "alpha", UseCaseID: "UC-002", StepKind: planner.StepTarget, Success: true}}, []planner.RepoPlan{flat})
	if s.Progression.Enabled {
		t.Error("Progression.Enabled should be false without prerequisites")
	}
}

func TestSummarizeExploration(t *testing.T) {
	findings := []ExplorationFinding{
		{Success: true, TotalConfidence: 1, Citations: []engine.Citation{{File: "a.go"}, {File: "b.go", Line: 3}}},
		{Success: false, TotalConfidence: 0, StrictSignals: []string{"fallback"}, Errors: []string{"x"}},
	}
	s := SummarizeExploration(findings)
	if s.Total != 2 || s.Successful != 1 || s.Citations != 2 || s.WithStrictSignals != 1 || s.WithErrors != 1 {
		t.Errorf("SummarizeExploration() = %+v", s)
	}
	if s.SuccessRate != 0.5 || s.MeanConfidence != 0.5 {
		t.Errorf("rates = %v/%v", s.SuccessRate, s.MeanConfidence)
	}
}
