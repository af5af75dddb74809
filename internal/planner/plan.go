// Package planner turns selected use cases into dependency-ordered,
// budgeted execution plans and spreads them across repositories.
package planner

import (
	"sort"

	"librarian/internal/usecase"
)

// StepKind distinguishes prerequisites pulled in by the planner from the
// use cases that were actually selected.
type StepKind string

const (
	StepPrerequisite StepKind = "prerequisite"
	StepTarget       StepKind = "target"
)

// PlanItem is a use case scheduled for execution.
type PlanItem struct {
	usecase.UseCase
	StepKind          StepKind      `json:"stepKind"`
	RequiredByTargets []string      `json:"requiredByTargets"`
	Layer             usecase.Layer `json:"layer"`
}

// IsTarget reports whether the item is a selected target.
func (p PlanItem) IsTarget() bool {
	return p.StepKind == StepTarget
}

// Plan is an ordered list of plan items plus the ids that could not be
// topologically ordered because they sit on a dependency cycle.
type Plan struct {
	Items      []PlanItem
	Unresolved []string
}

// BuildPlan orders targets, and when progressive is set their transitive
// prerequisites, so that every item follows its in-plan dependencies.
func BuildPlan(all, targets []usecase.UseCase, progressive bool) []PlanItem {
	return buildPlan(all, targets, progressive).Items
}

func buildPlan(all, targets []usecase.UseCase, progressive bool) Plan {
	byID := usecase.Index(all)
	for _, t := range targets {
		if _, ok := byID[t.ID]; !ok {
			byID[t.ID] = t
		}
	}

	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t.ID] = true
	}

	members := newOrderedSet()
	requiredBy := make(map[string]*orderedSet)
	require := func(id, target string) {
		members.add(id)
		if requiredBy[id] == nil {
			requiredBy[id] = newOrderedSet()
		}
		requiredBy[id].add(target)
	}

	builder := newClosureBuilder(byID)
	for _, t := range targets {
		require(t.ID, t.ID)
		if !progressive {
			continue
		}
		for _, dep := range builder.closure(t.ID) {
			require(dep, t.ID)
		}
	}

	items := make(map[string]PlanItem, len(members.items))
	for _, id := range members.items {
		kind := StepPrerequisite
		if targetSet[id] {
			kind = StepTarget
		}
		req := append([]string(nil), requiredBy[id].items...)
		sort.Slice(req, func(i, j int) bool { return usecase.CompareIDs(req[i], req[j]) < 0 })
		items[id] = PlanItem{
			UseCase:           byID[id],
			StepKind:          kind,
			RequiredByTargets: req,
			Layer:             usecase.LayerOf(id),
		}
	}

	return order(items)
}

// readyLess orders the ready queue: prerequisites first, then ascending id.
func readyLess(a, b PlanItem) bool {
	if a.StepKind != b.StepKind {
		return a.StepKind == StepPrerequisite
	}
	return usecase.CompareIDs(a.ID, b.ID) < 0
}

// order runs Kahn's algorithm over the in-set dependency edges. Items left
// over (cycles) are appended in ascending id order.
func order(items map[string]PlanItem) Plan {
	indegree := make(map[string]int, len(items))
	dependents := make(map[string][]string, len(items))
	for id := range items {
		indegree[id] = 0
	}
	for id, item := range items {
		seen := make(map[string]bool)
		for _, dep := range item.Dependencies {
			if _, ok := items[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := make([]PlanItem, 0, len(items))
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, items[id])
		}
	}

	ordered := make([]PlanItem, 0, len(items))
	placed := make(map[string]bool, len(items))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return readyLess(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]

		ordered = append(ordered, next)
		placed[next.ID] = true

		for _, dependent := range dependents[next.ID] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, items[dependent])
			}
		}
	}

	var unresolved []string
	for id := range items {
		if !placed[id] {
			unresolved = append(unresolved, id)
		}
	}
	sort.Slice(unresolved, func(i, j int) bool { return usecase.CompareIDs(unresolved[i], unresolved[j]) < 0 })
	for _, id := range unresolved {
		ordered = append(ordered, items[id])
	}

	return Plan{Items: ordered, Unresolved: unresolved}
}

// SelectWithinBudget keeps the first maxRuns items. If that prefix holds no
// target it grows one item at a time until it does. maxRuns <= 0 disables
// the budget.
func SelectWithinBudget(plan []PlanItem, maxRuns int) []PlanItem {
	if maxRuns <= 0 || len(plan) <= maxRuns {
		return append([]PlanItem(nil), plan...)
	}

	n := maxRuns
	hasTarget := false
	for _, item := range plan[:n] {
		if item.IsTarget() {
			hasTarget = true
			break
		}
	}
	for !hasTarget && n < len(plan) {
		if plan[n].IsTarget() {
			hasTarget = true
		}
		n++
	}

	return append([]PlanItem(nil), plan[:n]...)
}
