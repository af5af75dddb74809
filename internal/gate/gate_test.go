package gate

import (
	"reflect"
	"testing"

	"librarian/internal/review"
)

func passingSummary() review.Summary {
	return review.Summary{
		Rates: review.Rates{
			TotalRuns:          10,
			PassedRuns:         10,
			PassRate:           1,
			EvidenceRate:       1,
			UsefulSummaryRate:  1,
			StrictFailureShare: 0,
		},
	}
}

func TestEvaluateNoRuns(t *testing.T) {
	g := Evaluate(review.Summary{}, DefaultThresholds())
	if g.Passed {
		t.Error("Passed = true, want false")
	}
	if len(g.Reasons) == 0 || g.Reasons[0] != NoRunsExecuted {
		t.Errorf("Reasons = %v, want no_runs_executed first", g.Reasons)
	}
}

func TestEvaluatePassRateBoundary(t *testing.T) {
	s := passingSummary()
	s.PassRate = 0.80

	g := Evaluate(s, DefaultThresholds())
	if !g.Passed {
		t.Errorf("Reasons = %v, want none for pass rate 0.80 >= 0.75", g.Reasons)
	}

	s.PassRate = 0.75
	if g := Evaluate(s, DefaultThresholds()); !g.Passed {
		t.Errorf("pass rate equal to threshold should pass: %v", g.Reasons)
	}
}

func TestEvaluateOrderAndFormat(t *testing.T) {
	s := review.Summary{
		Rates: review.Rates{
			TotalRuns:          4,
			PassRate:           0.5,
			EvidenceRate:       0.25,
			UsefulSummaryRate:  0.5,
			StrictFailureShare: 0.25,
		},
		Progression: review.Progression{
			Enabled:                    true,
			PrerequisiteRuns:           2,
			PrerequisitePassRate:       0.5,
			TargetRuns:                 2,
			TargetPassRate:             0.5,
			TargetDependencyReadyShare: 0.5,
		},
	}

	g := Evaluate(s, DefaultThresholds())
	want := []string{
		"pass_rate:0.500<0.750",
		"evidence_rate:0.250<0.900",
		"useful_summary_rate:0.500<0.800",
		"strict_failure_share:0.250>0.000",
		"prerequisite_pass_rate:0.500<0.750",
		"target_pass_rate:0.500<0.750",
		"target_dependency_ready_share:0.500<1.000",
	}
	if !reflect.DeepEqual(g.Reasons, want) {
		t.Errorf("Reasons = %v\nwant %v", g.Reasons, want)
	}
	if g.Passed {
		t.Error("Passed = true, want false")
	}
}

func TestEvaluateProgression(t *testing.T) {
	tests := []struct {
		name string
		prog review.Progression
		want []string
	}{
		{
			name: "disabled ignores progression",
			prog: review.Progression{Enabled: false, TargetRuns: 1, TargetPassRate: 0},
			want: []string{},
		},
		{
			name: "missing prerequisite runs",
			prog: review.Progression{Enabled: true, TargetRuns: 2, TargetPassRate: 1, TargetDependencyReadyShare: 1},
			want: []string{"missing_prerequisite_runs"},
		},
		{
			name: "missing target runs",
			prog: review.Progression{Enabled: true, PrerequisiteRuns: 2, PrerequisitePassRate: 1},
			want: []string{"missing_target_runs"},
		},
		{
			name: "all good",
			prog: review.Progression{Enabled: true, PrerequisiteRuns: 1, PrerequisitePassRate: 1, TargetRuns: 1, TargetPassRate: 1, TargetDependencyReadyShare: 1},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := passingSummary()
			s.Progression = tt.prog
			g := Evaluate(s, DefaultThresholds())
			if !reflect.DeepEqual(g.Reasons, tt.want) {
				t.Errorf("Reasons = %v, want %v", g.Reasons, tt.want)
			}
			if g.Passed != (len(tt.want) == 0) {
				t.Errorf("Passed = %v", g.Passed)
			}
		})
	}
}

func TestThresholdsMerge(t *testing.T) {
	pass := 0.5
	strict := 0.1
	got := DefaultThresholds().Merge(Overrides{MinPassRate: &pass, MaxStrictFailureShare: &strict})

	want := DefaultThresholds()
	want.MinPassRate = 0.5
	want.MaxStrictFailureShare = 0.1
	if got != want {
		t.Errorf("Merge() = %+v, want %+v", got, want)
	}
	if DefaultThresholds().Merge(Overrides{}) != DefaultThresholds() {
		t.Error("empty overrides should not change thresholds")
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := DefaultThresholds()
	bad.MinEvidenceRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for threshold above 1")
	}
}
