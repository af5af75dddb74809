// Package engine defines the query-engine collaborator a review drives.
// Retrieval, ranking and synthesis live behind this interface.
package engine

import "context"

// Request is a single review query.
type Request struct {
	Intent        string `json:"intent"`
	Deterministic bool   `json:"deterministic"`
}

// Citation points at a source location backing an answer.
type Citation struct {
	File string `json:"file"`
	Line int    `json:"line,omitempty"`
}

// Response is the structured outcome of a query.
type Response struct {
	PackCount        int     `json:"packCount"`
	EvidenceCount    int     `json:"evidenceCount"`
	HasUsefulSummary bool    `json:"hasUsefulSummary"`
	TotalConfidence  float64 `json:"totalConfidence"`

	Disclosures            []string `json:"disclosures,omitempty"`
	CoverageGaps           []string `json:"coverageGaps,omitempty"`
	SynthesisUncertainties []string `json:"synthesisUncertainties,omitempty"`
	DiagnosticReasons      []string `json:"diagnosticReasons,omitempty"`

	// Flags carries boolean markers such as fallbackUsed or retried.
	Flags map[string]bool `json:"flags,omitempty"`

	Summary   *string    `json:"summary,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Engine answers review queries for one repository.
type Engine interface {
	// Initialize prepares the engine for repoRoot, including provider
	// readiness. It is called once before any Query.
	Initialize(ctx context.Context, repoRoot string) error

	// Query runs a single intent.
	Query(ctx context.Context, req Request) (*Response, error)

	// Shutdown releases the engine. It is idempotent and never fails.
	Shutdown()
}

// Factory creates a fresh engine for a repository.
type Factory func(repo string) (Engine, error)
