// Package selector chooses which use cases a review run targets.
package selector

import (
	"fmt"
	"math"
	"sort"

	"librarian/internal/history"
	"librarian/internal/usecase"
)

// Mode identifies a selection strategy.
type Mode string

const (
	ModeSequential    Mode = "sequential"
	ModeUncertainty   Mode = "uncertainty"
	ModeBalanced      Mode = "balanced"
	ModeAdaptive      Mode = "adaptive"
	ModeProbabilistic Mode = "probabilistic"
)

// ValidModes returns all valid mode strings.
func ValidModes() []string {
	return []string{"sequential", "uncertainty", "balanced", "adaptive", "probabilistic"}
}

// ParseMode parses a string into a Mode, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "sequential":
		return ModeSequential, nil
	case "uncertainty":
		return ModeUncertainty, nil
	case "balanced":
		return ModeBalanced, nil
	case "adaptive":
		return ModeAdaptive, nil
	case "probabilistic":
		return ModeProbabilistic, nil
	default:
		return ModeSequential, fmt.Errorf("invalid selection mode '%s': must be one of: sequential, uncertainty, balanced, adaptive, probabilistic", s)
	}
}

// UsesHistory reports whether the mode reads history statistics.
func (m Mode) UsesHistory() bool {
	return m == ModeUncertainty || m == ModeAdaptive || m == ModeProbabilistic
}

const (
	stableThreshold     = 0.15
	uncertainShare      = 0.75
	domainRepeatPenalty = 0.85
)

// Inputs carries the optional history-derived signals.
type Inputs struct {
	// Uncertainty overrides the score derived from History when set.
	Uncertainty map[string]float64
	History     history.Stats
}

// uncertainty returns the score for id, defaulting to maximal uncertainty.
func (in Inputs) uncertainty(id string) float64 {
	if v, ok := in.Uncertainty[id]; ok {
		return v
	}
	if c, ok := in.History[id]; ok {
		return history.Uncertainty(c)
	}
	return 1
}

// Select returns up to maxCount use cases from catalog using mode.
// maxCount <= 0, or at least the catalog size, returns the whole catalog.
func Select(catalog []usecase.UseCase, maxCount int, mode Mode, in Inputs) []usecase.UseCase {
	if maxCount <= 0 || maxCount >= len(catalog) {
		return append([]usecase.UseCase(nil), catalog...)
	}

	switch mode {
	case ModeUncertainty:
		return byUncertaintyDesc(catalog, in)[:maxCount]
	case ModeBalanced:
		return balanced(catalog, maxCount)
	case ModeAdaptive:
		return adaptive(catalog, maxCount, in)
	case ModeProbabilistic:
		return probabilistic(catalog, maxCount, in)
	default:
		return append([]usecase.UseCase(nil), catalog[:maxCount]...)
	}
}

func byUncertaintyDesc(catalog []usecase.UseCase, in Inputs) []usecase.UseCase {
	out := append([]usecase.UseCase(nil), catalog...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := in.uncertainty(out[i].ID), in.uncertainty(out[j].ID)
		if a != b {
			return a > b
		}
		return usecase.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out
}

func byUncertaintyAsc(catalog []usecase.UseCase, in Inputs) []usecase.UseCase {
	out := append([]usecase.UseCase(nil), catalog...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := in.uncertainty(out[i].ID), in.uncertainty(out[j].ID)
		if a != b {
			return a < b
		}
		return usecase.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out
}

// domainQueues groups catalog by domain, preserving catalog order inside
// each queue, and returns the domains alphabetically.
func domainQueues(catalog []usecase.UseCase) ([]string, map[string][]usecase.UseCase) {
	queues := make(map[string][]usecase.UseCase)
	for _, uc := range catalog {
		queues[uc.Domain] = append(queues[uc.Domain], uc)
	}
	domains := make([]string, 0, len(queues))
	for d := range queues {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, queues
}

func balanced(catalog []usecase.UseCase, maxCount int) []usecase.UseCase {
	domains, queues := domainQueues(catalog)
	out := make([]usecase.UseCase, 0, maxCount)
	for len(out) < maxCount {
		progressed := false
		for _, d := range domains {
			if len(out) >= maxCount {
				break
			}
			if len(queues[d]) == 0 {
				continue
			}
			out = append(out, queues[d][0])
			queues[d] = queues[d][1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// adaptiveSplit returns how many of maxCount slots go to the uncertain pool.
func adaptiveSplit(maxCount int) int {
	if maxCount <= 2 {
		return maxCount
	}
	return int(math.Ceil(uncertainShare * float64(maxCount)))
}

func adaptive(catalog []usecase.UseCase, maxCount int, in Inputs) []usecase.UseCase {
	desc := byUncertaintyDesc(catalog, in)
	asc := byUncertaintyAsc(catalog, in)

	var stable []usecase.UseCase
	for _, uc := range asc {
		if in.uncertainty(uc.ID) <= stableThreshold {
			stable = append(stable, uc)
		}
	}
	if len(stable) == 0 {
		stable = asc
	}

	chosen := make(map[string]bool, maxCount)
	out := make([]usecase.UseCase, 0, maxCount)
	take := func(pool []usecase.UseCase, limit int) {
		for _, uc := range pool {
			if len(out) >= limit {
				return
			}
			if chosen[uc.ID] {
				continue
			}
			chosen[uc.ID] = true
			out = append(out, uc)
		}
	}

	uncertainCount := adaptiveSplit(maxCount)
	take(desc, uncertainCount)
	take(stable, maxCount)
	take(desc, maxCount)
	return out
}

// Probability returns the chance that the probabilistic strategy wants to
// run id, always in [0, 1].
func Probability(id string, in Inputs) float64 {
	u := clamp01(in.uncertainty(id))
	c, ok := in.History[id]
	if !ok || c.Runs <= 0 {
		return clamp01(0.7 + 0.3*u)
	}

	novelty := 0.0
	if c.Runs < 2 {
		novelty = 0.1
	}
	repeatedSuccess := math.Min(0.7, math.Max(0, float64(c.Successes-c.Failures))*0.08)
	confidence := math.Min(0.2, math.Max(0, (c.SuccessRate()-0.85)*1.25))

	return clamp01(0.05 +
		0.45*u +
		0.5*c.FailureRate() +
		0.4*c.StrictRate() +
		0.2*c.DependencyNotReadyRate() +
		novelty -
		repeatedSuccess -
		confidence)
}

type candidate struct {
	uc usecase.UseCase
	p  float64
}

// probabilistic greedily picks, one per round, the domain whose best
// remaining candidate scores highest once damped by how many picks that
// domain already has. Ties go to the alphabetically first domain.
func probabilistic(catalog []usecase.UseCase, maxCount int, in Inputs) []usecase.UseCase {
	domains, queues := domainQueues(catalog)

	pools := make(map[string][]candidate, len(domains))
	for _, d := range domains {
		pool := make([]candidate, 0, len(queues[d]))
		for _, uc := range queues[d] {
			pool = append(pool, candidate{uc: uc, p: Probability(uc.ID, in)})
		}
		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].p != pool[j].p {
				return pool[i].p > pool[j].p
			}
			return usecase.CompareIDs(pool[i].uc.ID, pool[j].uc.ID) < 0
		})
		pools[d] = pool
	}

	picked := make(map[string]int, len(domains))
	out := make([]usecase.UseCase, 0, maxCount)
	for len(out) < maxCount {
		best := ""
		bestScore := -1.0
		for _, d := range domains {
			if len(pools[d]) == 0 {
				continue
			}
			score := pools[d][0].p / (1 + domainRepeatPenalty*float64(picked[d]))
			if score > bestScore {
				best, bestScore = d, score
			}
		}
		if best == "" {
			break
		}
		out = append(out, pools[best][0].uc)
		pools[best] = pools[best][1:]
		picked[best]++
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
