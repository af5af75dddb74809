package review

import (
	"github.com/montanaflynn/stats"

	"librarian/internal/planner"
	"librarian/internal/usecase"
)

// Rates are the four gated ratios over a set of runs.
type Rates struct {
	TotalRuns          int     `json:"totalRuns"`
	PassedRuns         int     `json:"passedRuns"`
	PassRate           float64 `json:"passRate"`
	EvidenceRate       float64 `json:"evidenceRate"`
	UsefulSummaryRate  float64 `json:"usefulSummaryRate"`
	StrictFailureShare float64 `json:"strictFailureShare"`
}

// LayerStats is the pass rate of one layer.
type LayerStats struct {
	Runs     int     `json:"runs"`
	Passed   int     `json:"passed"`
	PassRate float64 `json:"passRate"`
}

// Progression splits results by step kind and layer.
type Progression struct {
	// Enabled is set only when some plan contained prerequisite steps.
	Enabled bool `json:"enabled"`

	PrerequisiteRuns     int     `json:"prerequisiteRuns"`
	PrerequisitePassed   int     `json:"prerequisitePassed"`
	PrerequisitePassRate float64 `json:"prerequisitePassRate"`

	TargetRuns                 int     `json:"targetRuns"`
	TargetPassed               int     `json:"targetPassed"`
	TargetPassRate             float64 `json:"targetPassRate"`
	TargetDependencyReadyRuns  int     `json:"targetDependencyReadyRuns"`
	TargetDependencyReadyShare float64 `json:"targetDependencyReadyShare"`

	ByLayer map[usecase.Layer]LayerStats `json:"byLayer"`
}

// Confidence describes the distribution of totalConfidence across runs.
type Confidence struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// Summary is the aggregate of all run results of a review.
type Summary struct {
	Rates
	ByDomain           map[string]Rates `json:"byDomain"`
	Progression        Progression      `json:"progression"`
	Confidence         Confidence       `json:"confidence"`
	StrictSignalCounts map[string]int   `json:"strictSignalCounts"`
}

// rateCounter accumulates the counts behind Rates.
type rateCounter struct {
	total, passed, evidence, useful, strict int
}

func (c *rateCounter) add(r RunResult) {
	c.total++
	if r.Success {
		c.passed++
	}
	if r.EvidenceCount > 0 {
		c.evidence++
	}
	if r.HasUsefulSummary {
		c.useful++
	}
	if len(r.StrictSignals) > 0 {
		c.strict++
	}
}

func (c rateCounter) rates() Rates {
	return Rates{
		TotalRuns:          c.total,
		PassedRuns:         c.passed,
		PassRate:           ratio(c.passed, c.total),
		EvidenceRate:       ratio(c.evidence, c.total),
		UsefulSummaryRate:  ratio(c.useful, c.total),
		StrictFailureShare: ratio(c.strict, c.total),
	}
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// layerIndex resolves the layer of a result from the plan that produced it.
type layerIndex struct {
	byRepo map[string]map[string]usecase.Layer
	byID   map[string]usecase.Layer
}

func newLayerIndex(plans []planner.RepoPlan) layerIndex {
	idx := layerIndex{
		byRepo: make(map[string]map[string]usecase.Layer, len(plans)),
		byID:   make(map[string]usecase.Layer),
	}
	for _, p := range plans {
		layers := make(map[string]usecase.Layer, len(p.Items))
		for _, item := range p.Items {
			layers[item.ID] = item.Layer
			if _, ok := idx.byID[item.ID]; !ok {
				idx.byID[item.ID] = item.Layer
			}
		}
		idx.byRepo[p.Repo] = layers
	}
	return idx
}

func (idx layerIndex) layer(r RunResult) usecase.Layer {
	if l, ok := idx.byRepo[r.Repo][r.UseCaseID]; ok && l != "" {
		return l
	}
	if l, ok := idx.byID[r.UseCaseID]; ok && l != "" {
		return l
	}
	return usecase.LayerOf(r.UseCaseID)
}

// Summarize reduces results into a Summary. plans supply step layers and
// decide whether progression metrics apply.
func Summarize(results []RunResult, plans []planner.RepoPlan) Summary {
	var overall rateCounter
	domains := make(map[string]*rateCounter)
	layers := make(map[usecase.Layer]*LayerStats)
	signals := make(map[string]int)
	confidences := make(stats.Float64Data, 0, len(results))
	idx := newLayerIndex(plans)

	var prog Progression
	for _, p := range plans {
		if p.HasPrerequisites() {
			prog.Enabled = true
			break
		}
	}

	for _, r := range results {
		overall.add(r)

		dc := domains[r.Domain]
		if dc == nil {
			dc = &rateCounter{}
			domains[r.Domain] = dc
		}
		dc.add(r)

		for _, s := range r.StrictSignals {
			signals[s]++
		}
		confidences = append(confidences, r.TotalConfidence)

		if r.StepKind == planner.StepTarget {
			prog.TargetRuns++
			if r.Success {
				prog.TargetPassed++
			}
			if r.DependencyReady {
				prog.TargetDependencyReadyRuns++
			}
		} else {
			prog.PrerequisiteRuns++
			if r.Success {
				prog.PrerequisitePassed++
			}
		}

		l := idx.layer(r)
		ls := layers[l]
		if ls == nil {
			ls = &LayerStats{}
			layers[l] = ls
		}
		ls.Runs++
		if r.Success {
			ls.Passed++
		}
	}

	prog.PrerequisitePassRate = ratio(prog.PrerequisitePassed, prog.PrerequisiteRuns)
	prog.TargetPassRate = ratio(prog.TargetPassed, prog.TargetRuns)
	prog.TargetDependencyReadyShare = ratio(prog.TargetDependencyReadyRuns, prog.TargetRuns)
	prog.ByLayer = make(map[usecase.Layer]LayerStats, len(layers))
	for l, ls := range layers {
		ls.PassRate = ratio(ls.Passed, ls.Runs)
		prog.ByLayer[l] = *ls
	}

	byDomain := make(map[string]Rates, len(domains))
	for d, c := range domains {
		byDomain[d] = c.rates()
	}

	return Summary{
		Rates:              overall.rates(),
		ByDomain:           byDomain,
		Progression:        prog,
		Confidence:         confidenceOf(confidences),
		StrictSignalCounts: signals,
	}
}

func confidenceOf(data stats.Float64Data) Confidence {
	if len(data) == 0 {
		return Confidence{}
	}
	var c Confidence
	c.Mean, _ = stats.Mean(data)
	c.Median, _ = stats.Median(data)
	c.P90, _ = stats.Percentile(data, 90)
	return c
}

// ExplorationSummary aggregates exploration findings.
type ExplorationSummary struct {
	Total             int     `json:"total"`
	Successful        int     `json:"successful"`
	SuccessRate       float64 `json:"successRate"`
	WithStrictSignals int     `json:"withStrictSignals"`
	WithErrors        int     `json:"withErrors"`
	Citations         int     `json:"citations"`
	MeanConfidence    float64 `json:"meanConfidence"`
}

// SummarizeExploration reduces findings into an ExplorationSummary.
func SummarizeExploration(findings []ExplorationFinding) ExplorationSummary {
	var s ExplorationSummary
	confidences := make(stats.Float64Data, 0, len(findings))
	for _, f := range findings {
		s.Total++
		if f.Success {
			s.Successful++
		}
		if len(f.StrictSignals) > 0 {
			s.WithStrictSignals++
		}
		if len(f.Errors) > 0 {
			s.WithErrors++
		}
		s.Citations += len(f.Citations)
		confidences = append(confidences, f.TotalConfidence)
	}
	s.SuccessRate = ratio(s.Successful, s.Total)
	if len(confidences) > 0 {
		s.MeanConfidence, _ = stats.Mean(confidences)
	}
	return s
}
