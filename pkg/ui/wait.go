package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/authharness/pkg/logging"
)

// DefaultIdleTimeout bounds how long a visible indicator may stay visible.
const DefaultIdleTimeout = 10 * time.Second

// WaitUntilIdle waits for the active indicator in scope, if any, to become
// hidden. It fails when the indicator is still visible after timeout.
func WaitUntilIdle(ctx context.Context, scope Scope, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}

	active, ok := NewLoader(scope).ActiveLocator(ctx)
	if !ok {
		return ctx.Err()
	}
	if err := active.Locator.WaitHidden(ctx, timeout); err != nil {
		return fmt.Errorf("%s indicator %s still visible after %s: %w", active.Name, active.Locator, timeout, err)
	}
	return nil
}

// WaitForIdle is the soft variant of WaitUntilIdle: a timeout is logged and
// execution continues, leaving a later assertion to report the real
// failure. A nil logger drops the warning.
func WaitForIdle(ctx context.Context, scope Scope, timeout time.Duration, logger *logging.Logger) {
	if err := WaitUntilIdle(ctx, scope, timeout); err != nil {
		if logger == nil {
			logger = logging.Discard("ui")
		}
		logger.Warnf("page did not become idle: %v", err)
	}
}
