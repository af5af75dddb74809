package review

import (
	"context"
	"fmt"
	"time"

	reviewerrors "librarian/internal/errors"
)

// withTimeout races fn against a timer. fn runs on a context that ignores
// the parent's cancellation, so an in-flight call only ends by finishing or
// by its own budget. On expiry the call's context is cancelled and a
// ReviewError with code is returned; fn may still be running at that point.
// A non-positive budget disables the timer.
func withTimeout[T any](ctx context.Context, budget time.Duration, code reviewerrors.ErrorCode, what string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	if budget <= 0 {
		return fn(callCtx)
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{v, err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		var zero T
		return zero, reviewerrors.New(code, fmt.Sprintf("%s timed out after %s", what, budget), nil)
	}
}
