// Package metrics exports review progress and outcomes as Prometheus
// metrics.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"librarian/internal/review"
	"librarian/internal/scheduler"
)

const (
	namespace = "librarian"
	subsystem = "review"
)

// Recorder owns a dedicated registry. It implements review.Observer so it
// can be attached next to the log observer.
type Recorder struct {
	registry *prometheus.Registry

	steps         *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	cascades      *prometheus.CounterVec
	repoStates    *prometheus.CounterVec
	explorations  *prometheus.CounterVec
	strictSignals *prometheus.CounterVec

	rates      *prometheus.GaugeVec
	gatePassed prometheus.Gauge
	lastRun    prometheus.Gauge
}

var _ review.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "steps_total",
			Help:      "Executed plan steps by repository, step kind and outcome",
		}, []string{"repo", "step_kind", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "step_duration_seconds",
			Help:      "Query latency of plan steps",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 90, 120},
		}, []string{"step_kind"}),
		cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cascades_total",
			Help:      "Fail-fast cascades by repository",
		}, []string{"repo"}),
		repoStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "repo_state_transitions_total",
			Help:      "Repository state transitions",
		}, []string{"state"}),
		explorations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "explorations_total",
			Help:      "Exploration probes by outcome",
		}, []string{"outcome"}),
		strictSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "strict_signals_total",
			Help:      "Strict signals raised by plan steps",
		}, []string{"signal"}),
		rates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rate",
			Help:      "Summary ratios of the last review",
		}, []string{"name"}),
		gatePassed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "gate_passed",
			Help:      "1 if the last review passed the gate",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_run_timestamp_seconds",
			Help:      "Finish time of the last review",
		}),
	}

	r.registry.MustRegister(
		r.steps, r.stepDuration, r.cascades, r.repoStates,
		r.explorations, r.strictSignals, r.rates, r.gatePassed, r.lastRun,
	)
	return r
}

// Registry exposes the registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func outcome(success bool) string {
	if success {
		return "pass"
	}
	return "fail"
}

func (r *Recorder) RepoStateChanged(repo string, state review.RepoState) {
	r.repoStates.WithLabelValues(string(state)).Inc()
}

func (r *Recorder) StepFinished(result review.RunResult) {
	kind := string(result.StepKind)
	r.steps.WithLabelValues(result.Repo, kind, outcome(result.Success)).Inc()
	if result.DurationMs > 0 {
		r.stepDuration.WithLabelValues(kind).Observe(float64(result.DurationMs) / 1000)
	}
	for _, s := range result.StrictSignals {
		r.strictSignals.WithLabelValues(s).Inc()
	}
}

func (r *Recorder) CascadeTriggered(repo, useCaseID, cause string) {
	r.cascades.WithLabelValues(repo).Inc()
}

func (r *Recorder) ExplorationFinished(finding review.ExplorationFinding) {
	r.explorations.WithLabelValues(outcome(finding.Success)).Inc()
}

// Observe records the summary and gate of a finished review.
func (r *Recorder) Observe(rep *scheduler.Report) {
	s := rep.Summary
	r.rates.WithLabelValues("pass_rate").Set(s.PassRate)
	r.rates.WithLabelValues("evidence_rate").Set(s.EvidenceRate)
	r.rates.WithLabelValues("useful_summary_rate").Set(s.UsefulSummaryRate)
	r.rates.WithLabelValues("strict_failure_share").Set(s.StrictFailureShare)
	if s.Progression.Enabled {
		r.rates.WithLabelValues("prerequisite_pass_rate").Set(s.Progression.PrerequisitePassRate)
		r.rates.WithLabelValues("target_pass_rate").Set(s.Progression.TargetPassRate)
		r.rates.WithLabelValues("target_dependency_ready_share").Set(s.Progression.TargetDependencyReadyShare)
	}

	if rep.Gate.Passed {
		r.gatePassed.Set(1)
	} else {
		r.gatePassed.Set(0)
	}
	if !rep.FinishedAt.IsZero() {
		r.lastRun.Set(float64(rep.FinishedAt.Unix()))
	}
}

// WriteTextfile writes the registry in the text exposition format, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
