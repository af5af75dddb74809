package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")

	err := New(CatalogUnreadable, "catalog not found", cause)

	if err.Code != CatalogUnreadable {
		t.Errorf("Code = %v, want %v", err.Code, CatalogUnreadable)
	}
	if err.Message != "catalog not found" {
		t.Errorf("Message = %q, want %q", err.Message, "catalog not found")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestReviewError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      ProviderUnavailable,
			message:   "embedding provider offline",
			cause:     errors.New("connection refused"),
			wantParts: []string{"provider_unavailable", "embedding provider offline", "connection refused"},
		},
		{
			name:      "without cause",
			code:      QueryTimeout,
			message:   "query exceeded 45s",
			wantParts: []string{"[query_timeout]", "query exceeded 45s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("repo alpha: %w", New(InitTimeout, "initialization timed out", nil))

	if got := CodeOf(wrapped); got != InitTimeout {
		t.Errorf("CodeOf() = %q, want %q", got, InitTimeout)
	}
	if !HasCode(wrapped, InitTimeout) {
		t.Error("HasCode() = false, want true")
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestIsFailFast(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"provider_unavailable", true},
		{"[query_timeout] query exceeded 45s", true},
		{"query timed out after 30s", true},
		{"model_policy_unavailable: no model allowed", true},
		{"[initialization_failed] engine start", true},
		{"Initialization failed: index missing", true},
		{"[query_failed] bad request", false},
		{"empty result", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := IsFailFast(tt.message); got != tt.want {
				t.Errorf("IsFailFast(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}
