package planner

import (
	"sort"

	"librarian/internal/usecase"
)

// Options controls per-repository planning.
type Options struct {
	Progressive    bool `json:"progressivePrerequisites"`
	MaxRunsPerRepo int  `json:"maxRunsPerRepo"`
}

// RepoPlan is the budgeted plan for one repository.
type RepoPlan struct {
	Repo  string     `json:"repo"`
	Items []PlanItem `json:"items"`

	// Closures maps each planned id to its prerequisite closure, restricted
	// to ids that survived budget truncation.
	Closures map[string][]string `json:"closures"`

	// Fallback is set when the progressive plan exceeded the budget and the
	// flat target plan was used instead.
	Fallback bool `json:"fallback,omitempty"`

	// Unresolved lists ids that sit on dependency cycles.
	Unresolved []string `json:"unresolved,omitempty"`
}

// HasPrerequisites reports whether any item is a prerequisite step.
func (p RepoPlan) HasPrerequisites() bool {
	for _, item := range p.Items {
		if !item.IsTarget() {
			return true
		}
	}
	return false
}

// Targets returns the number of target items.
func (p RepoPlan) Targets() int {
	n := 0
	for _, item := range p.Items {
		if item.IsTarget() {
			n++
		}
	}
	return n
}

// PlanRepo builds the plan for one repository's targets under opts.
func PlanRepo(repo string, all, targets []usecase.UseCase, opts Options) RepoPlan {
	plan := buildPlan(all, targets, opts.Progressive)
	fallback := false
	if opts.Progressive && opts.MaxRunsPerRepo > 0 && len(plan.Items) > opts.MaxRunsPerRepo {
		plan = buildPlan(all, targets, false)
		fallback = true
	}

	items := SelectWithinBudget(plan.Items, opts.MaxRunsPerRepo)

	planned := make(map[string]bool, len(items))
	for _, item := range items {
		planned[item.ID] = true
	}

	byID := usecase.Index(all)
	for _, t := range targets {
		if _, ok := byID[t.ID]; !ok {
			byID[t.ID] = t
		}
	}
	builder := newClosureBuilder(byID)

	closures := make(map[string][]string, len(items))
	for _, item := range items {
		var kept []string
		for _, dep := range builder.closure(item.ID) {
			if planned[dep] {
				kept = append(kept, dep)
			}
		}
		closures[item.ID] = kept
	}

	var unresolved []string
	for _, id := range plan.Unresolved {
		if planned[id] {
			unresolved = append(unresolved, id)
		}
	}

	return RepoPlan{
		Repo:       repo,
		Items:      items,
		Closures:   closures,
		Fallback:   fallback,
		Unresolved: unresolved,
	}
}

// Distribute spreads selected use cases over repos round robin. The scan
// for each use case starts at a rotating cursor; the first repo below
// perRepoCap takes it and the cursor moves past that repo. Distribution
// stops at the first use case no repo can accept.
func Distribute(selected []usecase.UseCase, repos []string, perRepoCap int) map[string][]usecase.UseCase {
	out := make(map[string][]usecase.UseCase, len(repos))
	if len(repos) == 0 || perRepoCap <= 0 {
		return out
	}

	cursor := 0
	for _, uc := range selected {
		assigned := false
		for i := 0; i < len(repos); i++ {
			idx := (cursor + i) % len(repos)
			repo := repos[idx]
			if len(out[repo]) >= perRepoCap {
				continue
			}
			out[repo] = append(out[repo], uc)
			cursor = (idx + 1) % len(repos)
			assigned = true
			break
		}
		if !assigned {
			break
		}
	}
	return out
}

// AssignedRepos returns the repos that received work, in input order.
func AssignedRepos(assignments map[string][]usecase.UseCase, repos []string) []string {
	out := make([]string, 0, len(assignments))
	for _, repo := range repos {
		if len(assignments[repo]) > 0 {
			out = append(out, repo)
		}
	}
	return out
}

// PlannedIDs returns every distinct id across plans in ascending order.
func PlannedIDs(plans []RepoPlan) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range plans {
		for _, item := range p.Items {
			if !seen[item.ID] {
				seen[item.ID] = true
				ids = append(ids, item.ID)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return usecase.CompareIDs(ids[i], ids[j]) < 0 })
	return ids
}
