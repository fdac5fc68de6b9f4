// internal/browser/context_utils.go
package browser

import (
	"context"
	"errors"
)

// CombineContext derives from primary (which carries the chromedp target) and
// is also canceled when secondary (which carries the caller's deadline) ends.
// context.Cause on the result reports secondary's error when it fired first.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// operationError prefers the caller's context error when it explains err.
// chromedp reports context.Canceled for a combined context even when the
// real cause was the caller's deadline.
func operationError(op context.Context, err error) error {
	if err == nil {
		return nil
	}
	if opErr := op.Err(); opErr != nil && errors.Is(err, context.Canceled) {
		return opErr
	}
	return err
}
