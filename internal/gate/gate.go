// Package gate decides whether a review summary is good enough to ship.
package gate

import (
	"fmt"

	"librarian/internal/review"
)

// Thresholds are the limits a summary must respect.
type Thresholds struct {
	MinPassRate                   float64 `json:"minPassRate" mapstructure:"minPassRate"`
	MinEvidenceRate               float64 `json:"minEvidenceRate" mapstructure:"minEvidenceRate"`
	MinUsefulSummaryRate          float64 `json:"minUsefulSummaryRate" mapstructure:"minUsefulSummaryRate"`
	MaxStrictFailureShare         float64 `json:"maxStrictFailureShare" mapstructure:"maxStrictFailureShare"`
	MinPrerequisitePassRate       float64 `json:"minPrerequisitePassRate" mapstructure:"minPrerequisitePassRate"`
	MinTargetPassRate             float64 `json:"minTargetPassRate" mapstructure:"minTargetPassRate"`
	MinTargetDependencyReadyShare float64 `json:"minTargetDependencyReadyShare" mapstructure:"minTargetDependencyReadyShare"`
}

// DefaultThresholds returns the release thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinPassRate:                   0.75,
		MinEvidenceRate:               0.90,
		MinUsefulSummaryRate:          0.80,
		MaxStrictFailureShare:         0,
		MinPrerequisitePassRate:       0.75,
		MinTargetPassRate:             0.75,
		MinTargetDependencyReadyShare: 1.0,
	}
}

// Overrides holds optional replacements for individual thresholds.
type Overrides struct {
	MinPassRate                   *float64 `json:"minPassRate,omitempty"`
	MinEvidenceRate               *float64 `json:"minEvidenceRate,omitempty"`
	MinUsefulSummaryRate          *float64 `json:"minUsefulSummaryRate,omitempty"`
	MaxStrictFailureShare         *float64 `json:"maxStrictFailureShare,omitempty"`
	MinPrerequisitePassRate       *float64 `json:"minPrerequisitePassRate,omitempty"`
	MinTargetPassRate             *float64 `json:"minTargetPassRate,omitempty"`
	MinTargetDependencyReadyShare *float64 `json:"minTargetDependencyReadyShare,omitempty"`
}

// Merge returns t with every set override applied.
func (t Thresholds) Merge(o Overrides) Thresholds {
	apply := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&t.MinPassRate, o.MinPassRate)
	apply(&t.MinEvidenceRate, o.MinEvidenceRate)
	apply(&t.MinUsefulSummaryRate, o.MinUsefulSummaryRate)
	apply(&t.MaxStrictFailureShare, o.MaxStrictFailureShare)
	apply(&t.MinPrerequisitePassRate, o.MinPrerequisitePassRate)
	apply(&t.MinTargetPassRate, o.MinTargetPassRate)
	apply(&t.MinTargetDependencyReadyShare, o.MinTargetDependencyReadyShare)
	return t
}

// Validate checks that every threshold is a ratio.
func (t Thresholds) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"minPassRate", t.MinPassRate},
		{"minEvidenceRate", t.MinEvidenceRate},
		{"minUsefulSummaryRate", t.MinUsefulSummaryRate},
		{"maxStrictFailureShare", t.MaxStrictFailureShare},
		{"minPrerequisitePassRate", t.MinPrerequisitePassRate},
		{"minTargetPassRate", t.MinTargetPassRate},
		{"minTargetDependencyReadyShare", t.MinTargetDependencyReadyShare},
	}
	for _, c := range checks {
		if c.value < 0 || c.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", c.name, c.value)
		}
	}
	return nil
}

// Gate is the release decision for one summary.
type Gate struct {
	Passed     bool       `json:"passed"`
	Reasons    []string   `json:"reasons"`
	Thresholds Thresholds `json:"thresholds"`
}

// NoRunsExecuted is reported when the summary contains no runs.
const NoRunsExecuted = "no_runs_executed"

func below(name string, actual, min float64) string {
	return fmt.Sprintf("%s:%.3f<%.3f", name, actual, min)
}

func above(name string, actual, max float64) string {
	return fmt.Sprintf("%s:%.3f>%.3f", name, actual, max)
}

// Evaluate checks s against t. Violations are listed in a fixed order and
// the gate passes only when there are none.
func Evaluate(s review.Summary, t Thresholds) Gate {
	reasons := []string{}

	if s.TotalRuns == 0 {
		reasons = append(reasons, NoRunsExecuted)
	}
	if s.PassRate < t.MinPassRate {
		reasons = append(reasons, below("pass_rate", s.PassRate, t.MinPassRate))
	}
	if s.EvidenceRate < t.MinEvidenceRate {
		reasons = append(reasons, below("evidence_rate", s.EvidenceRate, t.MinEvidenceRate))
	}
	if s.UsefulSummaryRate < t.MinUsefulSummaryRate {
		reasons = append(reasons, below("useful_summary_rate", s.UsefulSummaryRate, t.MinUsefulSummaryRate))
	}
	if s.StrictFailureShare > t.MaxStrictFailureShare {
		reasons = append(reasons, above("strict_failure_share", s.StrictFailureShare, t.MaxStrictFailureShare))
	}

	if p := s.Progression; p.Enabled {
		if p.PrerequisiteRuns == 0 {
			reasons = append(reasons, "missing_prerequisite_runs")
		}
		if p.TargetRuns == 0 {
			reasons = append(reasons, "missing_target_runs")
		}
		if p.PrerequisiteRuns > 0 && p.PrerequisitePassRate < t.MinPrerequisitePassRate {
			reasons = append(reasons, below("prerequisite_pass_rate", p.PrerequisitePassRate, t.MinPrerequisitePassRate))
		}
		if p.TargetRuns > 0 {
			if p.TargetPassRate < t.MinTargetPassRate {
				reasons = append(reasons, below("target_pass_rate", p.TargetPassRate, t.MinTargetPassRate))
			}
			if p.TargetDependencyReadyShare < t.MinTargetDependencyReadyShare {
				reasons = append(reasons, below("target_dependency_ready_share", p.TargetDependencyReadyShare, t.MinTargetDependencyReadyShare))
			}
		}
	}

	return Gate{
		Passed:     len(reasons) == 0,
		Reasons:    reasons,
		Thresholds: t,
	}
}
