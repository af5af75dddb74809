package errors

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrorCode represents stable error codes for review failure modes.
// Codes are lowercase so that they survive being matched as plain text
// inside recorded run errors.
type ErrorCode string

const (
	// QueryTimeout indicates a single query exceeded its budget
	QueryTimeout ErrorCode = "query_timeout"
	// InitTimeout indicates engine initialization exceeded its budget
	InitTimeout ErrorCode = "init_timeout"
	// ProviderUnavailable indicates the LLM/embedding provider is not reachable
	ProviderUnavailable ErrorCode = "provider_unavailable"
	// ModelPolicyUnavailable indicates no model satisfies the configured policy
	ModelPolicyUnavailable ErrorCode = "model_policy_unavailable"
	// InitializationFailed indicates the engine could not be started for a repo
	InitializationFailed ErrorCode = "initialization_failed"
	// QueryFailed indicates a query returned an error that is not fail-fast
	QueryFailed ErrorCode = "query_failed"
	// Cancelled indicates the review was cancelled between units of work
	Cancelled ErrorCode = "cancelled"
	// CatalogUnreadable indicates the use-case catalog could not be read
	CatalogUnreadable ErrorCode = "catalog_unreadable"
	// ManifestUnreadable indicates the repository manifest could not be read
	ManifestUnreadable ErrorCode = "manifest_unreadable"
	// HistoryCorrupt indicates a history source exists but cannot be decoded
	HistoryCorrupt ErrorCode = "history_corrupt"
	// ConfigInvalid indicates invalid review options
	ConfigInvalid ErrorCode = "config_invalid"
	// ReportWriteFailed indicates a report could not be persisted
	ReportWriteFailed ErrorCode = "report_write_failed"
)

// ReviewError represents a review error with a stable code and message.
type ReviewError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new ReviewError
func New(code ErrorCode, message string, cause error) *ReviewError {
	return &ReviewError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *ReviewError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ReviewError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *ReviewError) WithDetails(details interface{}) *ReviewError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first ReviewError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var re *ReviewError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// failFastPattern matches the error classes that poison every later query
// against the same repository.
var failFastPattern = regexp.MustCompile(`(?i)(query[_ ]timeout|timed out|provider[_ ]unavailable|model[_ ]policy[_ ]unavailable|initiali[sz]ation[_ ]failed)`)

// IsFailFast reports whether an error message belongs to a class that
// triggers the per-repository fail-fast cascade.
func IsFailFast(message string) bool {
	if message == "" {
		return false
	}
	return failFastPattern.MatchString(message)
}
