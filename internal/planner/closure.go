package planner

import "librarian/internal/usecase"

// orderedSet keeps insertion order and ignores duplicates.
type orderedSet struct {
	items []string
	seen  map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(id string) {
	if s.seen[id] {
		return
	}
	s.seen[id] = true
	s.items = append(s.items, id)
}

func (s *orderedSet) addAll(ids []string) {
	for _, id := range ids {
		s.add(id)
	}
}

// closureBuilder computes transitive prerequisite sets with memoization.
type closureBuilder struct {
	byID map[string]usecase.UseCase
	memo map[string][]string
}

func newClosureBuilder(byID map[string]usecase.UseCase) *closureBuilder {
	return &closureBuilder{
		byID: byID,
		memo: make(map[string][]string),
	}
}

// frame is one pending expansion on the explicit DFS stack.
type frame struct {
	id   string
	next int
	acc  *orderedSet
}

// closure returns the transitive prerequisites of root in discovery order,
// excluding root itself. Dependencies missing from the catalog are ignored.
//
// A dependency that is already on the current expansion path is recorded
// but not expanded again, so a cycle truncates the closure at the repeated
// node instead of failing. Memoized results of nodes inside a cycle depend
// on which node was expanded first.
func (b *closureBuilder) closure(root string) []string {
	if _, ok := b.byID[root]; !ok {
		return nil
	}
	if cached, ok := b.memo[root]; ok {
		return withoutID(cached, root)
	}

	onPath := map[string]bool{root: true}
	stack := []*frame{{id: root, acc: newOrderedSet()}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		deps := b.byID[top.id].Dependencies

		if top.next >= len(deps) {
			result := top.acc.items
			b.memo[top.id] = result
			delete(onPath, top.id)
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				stack[len(stack)-1].acc.addAll(result)
			}
			continue
		}

		dep := deps[top.next]
		top.next++

		if _, ok := b.byID[dep]; !ok {
			continue
		}
		top.acc.add(dep)

		if onPath[dep] {
			// cycle: keep the edge, stop expanding
			continue
		}
		if cached, ok := b.memo[dep]; ok {
			top.acc.addAll(cached)
			continue
		}

		onPath[dep] = true
		stack = append(stack, &frame{id: dep, acc: newOrderedSet()})
	}

	return withoutID(b.memo[root], root)
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Closure returns the transitive prerequisites of id within catalog.
func Closure(catalog []usecase.UseCase, id string) []string {
	return newClosureBuilder(usecase.Index(catalog)).closure(id)
}
