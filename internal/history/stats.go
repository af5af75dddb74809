// Package history derives per-use-case reliability statistics from earlier
// review runs. The statistics feed the adaptive selection strategies.
package history

import (
	"sort"

	"librarian/internal/usecase"
)

// Record is the slice of a past run result that history cares about.
type Record struct {
	Repo            string   `json:"repo,omitempty"`
	UseCaseID       string   `json:"useCaseId"`
	Success         bool     `json:"success"`
	StrictSignals   []string `json:"strictSignals"`
	DependencyReady *bool    `json:"dependencyReady,omitempty"`
}

// Counters holds the outcome counts for one use case.
type Counters struct {
	Runs               int `json:"runs"`
	Successes          int `json:"successes"`
	Failures           int `json:"failures"`
	StrictFailures     int `json:"strictFailures"`
	DependencyNotReady int `json:"dependencyNotReady"`
}

// SuccessRate returns successes/runs, or 0 without runs.
func (c Counters) SuccessRate() float64 { return c.rate(c.Successes) }

// FailureRate returns failures/runs, or 0 without runs.
func (c Counters) FailureRate() float64 { return c.rate(c.Failures) }

// StrictRate returns strictFailures/runs, or 0 without runs.
func (c Counters) StrictRate() float64 { return c.rate(c.StrictFailures) }

// DependencyNotReadyRate returns dependencyNotReady/runs, or 0 without runs.
func (c Counters) DependencyNotReadyRate() float64 { return c.rate(c.DependencyNotReady) }

func (c Counters) rate(n int) float64 {
	if c.Runs <= 0 {
		return 0
	}
	return float64(n) / float64(c.Runs)
}

// Stats maps use-case ids to their counters. It is read-only once built.
type Stats map[string]Counters

// Build reduces records into Stats. Records with malformed ids are ignored.
// A record without an explicit dependencyReady flag counts as ready.
func Build(records []Record) Stats {
	stats := make(Stats)
	for _, rec := range records {
		if !usecase.IsID(rec.UseCaseID) {
			continue
		}
		c := stats[rec.UseCaseID]
		c.Runs++
		if rec.Success {
			c.Successes++
		} else {
			c.Failures++
		}
		if len(rec.StrictSignals) > 0 {
			c.StrictFailures++
		}
		if rec.DependencyReady != nil && !*rec.DependencyReady {
			c.DependencyNotReady++
		}
		stats[rec.UseCaseID] = c
	}
	return stats
}

// Uncertainty scores how little we know about a use case, in [0, 1].
// Unseen use cases are maximally uncertain. Otherwise the Bernoulli variance
// of the success rate (scaled to 1) is floored by a small-sample term and
// raised by strict failures and unready dependencies.
func Uncertainty(c Counters) float64 {
	if c.Runs <= 0 {
		return 1
	}
	s := c.SuccessRate()
	variance := 4 * s * (1 - s)
	sample := 1 / float64(c.Runs+1)
	base := variance
	if sample > base {
		base = sample
	}
	return clamp01(base + 0.3*c.StrictRate() + 0.2*c.DependencyNotReadyRate())
}

// Scores returns the uncertainty score of every use case in stats.
func (s Stats) Scores() map[string]float64 {
	scores := make(map[string]float64, len(s))
	for id, c := range s {
		scores[id] = Uncertainty(c)
	}
	return scores
}

// IDs returns the ids in stats in catalog order.
func (s Stats) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return usecase.CompareIDs(ids[i], ids[j]) < 0
	})
	return ids
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
