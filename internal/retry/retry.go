// Package retry provides a small generic retry-with-predicate helper,
// used by the work-queue adapter's delete/abort calls and the keyed
// store's put call, which both retry a fixed number of times on
// transient failure before giving up.
package retry

import (
	"context"

	"github.com/oriys/brew/internal/logging"
)

// Until runs task up to maxAttempts times, stopping as soon as ok
// reports true for the returned value. It returns the last result and
// error. Each failed attempt is logged at debug level with the
// operation name for diagnosis.
func Until[T any](ctx context.Context, operation string, maxAttempts int, task func(ctx context.Context) (T, error), ok func(T, error) bool) (T, error) {
	var (
		result T
		err    error
	)
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = task(ctx)
		if ok(result, err) {
			return result, err
		}
		logging.Op().Debug("retry attempt did not satisfy predicate", "operation", operation, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
	}
	return result, err
}

// UntilOK is Until specialized to "succeeded iff err == nil".
func UntilOK[T any](ctx context.Context, operation string, maxAttempts int, task func(ctx context.Context) (T, error)) (T, error) {
	return Until(ctx, operation, maxAttempts, task, func(_ T, err error) bool { return err == nil })
}
