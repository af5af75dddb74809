package review

import (
	"regexp"
	"sort"
	"strings"

	"librarian/internal/engine"
)

// flagLabels maps known response flags onto strict-signal labels. Unknown
// flags that are set contribute their raw name.
var flagLabels = map[string]string{
	"fallbackUsed":  "fallback_used",
	"fallback_used": "fallback_used",
	"retry":         "retry",
	"retried":       "retry",
	"degraded":      "degraded",
	"timedOut":      "timeout",
	"timed_out":     "timeout",
	"timeout":       "timeout",
}

type signalPattern struct {
	label string
	re    *regexp.Regexp
}

// textPatterns are checked in order against every diagnostic string. An
// empty label means the lowercased match is the label.
var textPatterns = []signalPattern{
	{"fallback", regexp.MustCompile(`(?i)\bfallback`)},
	{"retry", regexp.MustCompile(`(?i)\bretr(y|ied|ies|ying)\b`)},
	{"degraded", regexp.MustCompile(`(?i)\bdegrad(e|ed|es|ing)\b`)},
	{"", regexp.MustCompile(`(?i)\bprerequisite_(not_satisfied|missing)\b`)},
	{"provider_unavailable", regexp.MustCompile(`(?i)\bprovider_unavailable\b`)},
	{"validation_unavailable", regexp.MustCompile(`(?i)\bvalidation_unavailable\b`)},
	// timeout, time_out, time out, timed out, timed_out; not "runtime output"
	{"timeout", regexp.MustCompile(`(?i)\btimed?[ _]?outs?\b`)},
}

var unverifiedPattern = regexp.MustCompile(`(?i)unverified_by_trace\(([^)]*)\)`)

// benignUnverifiedReasons do not undermine the evidence of a run.
var benignUnverifiedReasons = map[string]bool{
	"adequacy_missing":        true,
	"multi_agent_conflict":    true,
	"watch_state_missing":     true,
	"watch_state_unavailable": true,
}

// labelSet collects labels in first-seen order without duplicates.
type labelSet struct {
	labels []string
	seen   map[string]bool
}

func (s *labelSet) add(label string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if label == "" || s.seen[label] {
		return
	}
	s.seen[label] = true
	s.labels = append(s.labels, label)
}

// StrictSignals extracts the labels that make a response untrustworthy
// regardless of its raw counts. The result is never nil.
func StrictSignals(resp *engine.Response) []string {
	set := &labelSet{}
	if resp == nil {
		return []string{}
	}

	keys := make([]string, 0, len(resp.Flags))
	for k, v := range resp.Flags {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if label, ok := flagLabels[k]; ok {
			set.add(label)
		} else {
			set.add(k)
		}
	}

	for _, group := range [][]string{resp.Disclosures, resp.CoverageGaps, resp.SynthesisUncertainties, resp.DiagnosticReasons} {
		for _, text := range group {
			scanText(set, text)
		}
	}

	if set.labels == nil {
		return []string{}
	}
	return set.labels
}

func scanText(set *labelSet, text string) {
	// Benign unverified markers are removed so their reasons do not trip
	// the generic patterns. Other markers stay in the text.
	stripped := unverifiedPattern.ReplaceAllStringFunc(text, func(marker string) string {
		m := unverifiedPattern.FindStringSubmatch(marker)
		reason := strings.ToLower(strings.TrimSpace(m[1]))
		if benignUnverifiedReasons[reason] {
			return ""
		}
		set.add("unverified_by_trace")
		return marker
	})

	for _, p := range textPatterns {
		match := p.re.FindString(stripped)
		if match == "" {
			continue
		}
		if p.label == "" {
			set.add(strings.ToLower(match))
		} else {
			set.add(p.label)
		}
	}
}
