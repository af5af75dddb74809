// Package usecase parses the use-case catalog that drives librarian reviews.
//
// A catalog is a table with one row per use case and the columns
// id / domain / need / dependencies. Rows that do not have that shape are
// skipped rather than failing the whole catalog.
package usecase

import (
	"regexp"
	"strconv"
	"strings"
)

// UseCase is a single capability probed during a review.
type UseCase struct {
	ID           string   `json:"id" toml:"id"`
	Domain       string   `json:"domain" toml:"domain"`
	Need         string   `json:"need" toml:"need"`
	Dependencies []string `json:"dependencies" toml:"dependencies"`
}

// Range is an inclusive numeric id range. End <= 0 means unbounded.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the numeric id n falls inside the range.
func (r Range) Contains(n int) bool {
	if n < r.Start {
		return false
	}
	return r.End <= 0 || n <= r.End
}

// Layer is a coarse maturity bucket derived from a use-case id.
type Layer string

const (
	LayerL0      Layer = "L0"
	LayerL1      Layer = "L1"
	LayerL2      Layer = "L2"
	LayerL3      Layer = "L3"
	LayerL4      Layer = "L4"
	LayerUnknown Layer = "unknown"
)

var idPattern = regexp.MustCompile(`^UC-(\d+)$`)

// IsID reports whether s is a well-formed use-case id.
func IsID(s string) bool {
	return idPattern.MatchString(s)
}

// Number returns the numeric suffix of a use-case id.
func Number(id string) (int, bool) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// LayerOf maps an id onto its layer. Ids without a numeric suffix, or with
// one outside 1..310, are LayerUnknown.
func LayerOf(id string) Layer {
	n, ok := Number(id)
	if !ok {
		return LayerUnknown
	}
	switch {
	case n >= 1 && n <= 30:
		return LayerL0
	case n >= 31 && n <= 60:
		return LayerL1
	case n >= 61 && n <= 170:
		return LayerL2
	case n >= 171 && n <= 260:
		return LayerL3
	case n >= 261 && n <= 310:
		return LayerL4
	default:
		return LayerUnknown
	}
}

// CompareIDs orders ids by numeric suffix, falling back to string order.
func CompareIDs(a, b string) int {
	na, okA := Number(a)
	nb, okB := Number(b)
	switch {
	case okA && okB && na != nb:
		if na < nb {
			return -1
		}
		return 1
	case okA && !okB:
		return -1
	case !okA && okB:
		return 1
	}
	return strings.Compare(a, b)
}

// ParseDependencies parses a dependency cell. "none" in any case, or an
// empty cell, yields no dependencies. Tokens that are not ids are dropped,
// duplicates keep their first position, and self references are removed.
func ParseDependencies(cell, self string) []string {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "none") {
		return []string{}
	}

	deps := make([]string, 0, 4)
	seen := make(map[string]bool)
	for _, tok := range strings.Split(cell, ",") {
		id := strings.TrimSpace(tok)
		if !IsID(id) || id == self || seen[id] {
			continue
		}
		seen[id] = true
		deps = append(deps, id)
	}
	return deps
}

// normalize builds a UseCase from raw cell values, or reports false when the
// row does not look like a catalog entry.
func normalize(id, domain, need string, deps []string) (UseCase, bool) {
	id = strings.TrimSpace(id)
	if !IsID(id) {
		return UseCase{}, false
	}
	domain = strings.TrimSpace(domain)
	need = strings.TrimSpace(need)
	if domain == "" {
		return UseCase{}, false
	}

	cleaned := make([]string, 0, len(deps))
	seen := make(map[string]bool)
	for _, d := range deps {
		d = strings.TrimSpace(d)
		if !IsID(d) || d == id || seen[d] {
			continue
		}
		seen[d] = true
		cleaned = append(cleaned, d)
	}

	return UseCase{ID: id, Domain: domain, Need: need, Dependencies: cleaned}, true
}

// filter keeps the first occurrence of every id inside the range.
func filter(all []UseCase, r Range) []UseCase {
	out := make([]UseCase, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, uc := range all {
		if seen[uc.ID] {
			continue
		}
		n, _ := Number(uc.ID)
		if !r.Contains(n) {
			continue
		}
		seen[uc.ID] = true
		out = append(out, uc)
	}
	return out
}

// Index returns the catalog keyed by id.
func Index(catalog []UseCase) map[string]UseCase {
	byID := make(map[string]UseCase, len(catalog))
	for _, uc := range catalog {
		byID[uc.ID] = uc
	}
	return byID
}
