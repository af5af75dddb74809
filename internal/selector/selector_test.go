package selector

import (
	"math"
	"reflect"
	"testing"

	"librarian/internal/history"
	"librarian/internal/usecase"
)

func catalog() []usecase.UseCase {
	return []usecase.UseCase{
		{ID: "UC-001", Domain: "A"},
		{ID: "UC-002", Domain: "A"},
		{ID: "UC-003", Domain: "B"},
		{ID: "UC-004", Domain: "B"},
		{ID: "UC-005", Domain: "C"},
	}
}

func ids(ucs []usecase.UseCase) []string {
	out := make([]string, len(ucs))
	for i, uc := range ucs {
		out[i] = uc.ID
	}
	return out
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeSequential, false},
		{"sequential", ModeSequential, false},
		{"uncertainty", ModeUncertainty, false},
		{"balanced", ModeBalanced, false},
		{"adaptive", ModeAdaptive, false},
		{"probabilistic", ModeProbabilistic, false},
		{"random", ModeSequential, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	scores := map[string]float64{"UC-001": 0.1, "UC-002": 0.9, "UC-003": 0.5, "UC-005": 0.9}

	tests := []struct {
		name   string
		mode   Mode
		max    int
		inputs Inputs
		want   []string
	}{
		{"sequential", ModeSequential, 2, Inputs{}, []string{"UC-001", "UC-002"}},
		{"balanced round robin", ModeBalanced, 4, Inputs{}, []string{"UC-001", "UC-003", "UC-005", "UC-002"}},
		{"uncertainty unseen first", ModeUncertainty, 3, Inputs{Uncertainty: scores}, []string{"UC-004", "UC-002", "UC-005"}},
		{"adaptive split", ModeAdaptive, 4, Inputs{Uncertainty: scores}, []string{"UC-004", "UC-002", "UC-005", "UC-001"}},
		{"adaptive small budget", ModeAdaptive, 2, Inputs{Uncertainty: scores}, []string{"UC-004", "UC-002"}},
		{
			"adaptive without stable pool",
			ModeAdaptive, 4,
			Inputs{Uncertainty: map[string]float64{"UC-001": 0.5, "UC-002": 0.6, "UC-003": 0.7, "UC-004": 0.8, "UC-005": 0.9}},
			[]string{"UC-005", "UC-004", "UC-003", "UC-001"},
		},
		{
			"probabilistic domain diversity",
			ModeProbabilistic, 4,
			Inputs{Uncertainty: map[string]float64{"UC-001": 0, "UC-002": 1, "UC-003": 0.5, "UC-004": 1, "UC-005": 0}},
			[]string{"UC-002", "UC-004", "UC-005", "UC-003"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Select(catalog(), tt.max, tt.mode, tt.inputs))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Select(%s, %d) = %v, want %v", tt.mode, tt.max, got, tt.want)
			}
		})
	}
}

func TestSelectFullCatalog(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeUncertainty, ModeBalanced, ModeAdaptive, ModeProbabilistic} {
		for _, max := range []int{0, 5, 50} {
			got := ids(Select(catalog(), max, mode, Inputs{}))
			if !reflect.DeepEqual(got, ids(catalog())) {
				t.Errorf("Select(%s, %d) = %v, want catalog unchanged", mode, max, got)
			}
		}
	}
}

func TestSelectNoDuplicates(t *testing.T) {
	stats := history.Stats{
		"UC-001": {Runs: 5, Successes: 5},
		"UC-003": {Runs: 2, Failures: 2, StrictFailures: 1},
	}
	for _, mode := range []Mode{ModeUncertainty, ModeBalanced, ModeAdaptive, ModeProbabilistic} {
		for max := 1; max < len(catalog()); max++ {
			got := Select(catalog(), max, mode, Inputs{History: stats})
			if len(got) != max {
				t.Errorf("Select(%s, %d) returned %d items", mode, max, len(got))
			}
			seen := make(map[string]bool)
			for _, uc := range got {
				if seen[uc.ID] {
					t.Errorf("Select(%s, %d) repeated %s", mode, max, uc.ID)
				}
				seen[uc.ID] = true
			}
		}
	}
}

func TestProbability(t *testing.T) {
	tests := []struct {
		name string
		c    history.Counters
		want float64
	}{
		{"single failure", history.Counters{Runs: 1, Failures: 1}, 0.875},
		{"saturated failures", history.Counters{Runs: 10, Failures: 10, StrictFailures: 10, DependencyNotReady: 10}, 1},
		{"long success streak", history.Counters{Runs: 100, Successes: 100}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Inputs{History: history.Stats{"UC-001": tt.c}}
			got := Probability("UC-001", in)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Probability() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := Probability("UC-009", Inputs{}); got != 1 {
		t.Errorf("Probability without history = %v, want 1", got)
	}
	if got := Probability("UC-009", Inputs{Uncertainty: map[string]float64{"UC-009": 0}}); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("Probability with certain score = %v, want 0.7", got)
	}
}

func TestProbabilityBounds(t *testing.T) {
	counters := []history.Counters{
		{},
		{Runs: 1},
		{Runs: 1 << 20, Successes: 1 << 20},
		{Runs: 1 << 20, Failures: 1 << 20, StrictFailures: 1 << 20, DependencyNotReady: 1 << 20},
		{Runs: 3, Successes: 9, Failures: 0},
		{Runs: 3, Failures: 9, StrictFailures: 9, DependencyNotReady: 9},
	}
	overrides := []float64{-5, 0, 0.5, 1, 7, math.NaN()}

	for _, c := range counters {
		for _, u := range overrides {
			in := Inputs{
				History:     history.Stats{"UC-001": c},
				Uncertainty: map[string]float64{"UC-001": u},
			}
			p := Probability("UC-001", in)
			if p < 0 || p > 1 || math.IsNaN(p) {
				t.Errorf("Probability(%+v, u=%v) = %v, out of [0,1]", c, u, p)
			}
		}
	}
}
