package main

import (
	"errors"
	"fmt"
	"os"

	reviewerrors "librarian/internal/errors"
)

// Exit codes.
const (
	exitOK         = 0
	exitGateFailed = 1
	exitError      = 2
	exitCancelled  = 130
)

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	var gateErr *gateFailedError
	if !errors.As(err, &gateErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var gateErr *gateFailedError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &gateErr):
		return exitGateFailed
	case reviewerrors.HasCode(err, reviewerrors.Cancelled):
		return exitCancelled
	default:
		return exitError
	}
}

// gateFailedError reports a failed gate so main can exit non-zero
// without printing the report a second time.
type gateFailedError struct {
	reasons []string
}

func (e *gateFailedError) Error() string {
	return fmt.Sprintf("gate failed: %d violations", len(e.reasons))
}
