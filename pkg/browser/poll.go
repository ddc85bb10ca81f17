package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const pollInterval = 100 * time.Millisecond

// ErrTimeout is returned when a wait runs out of time.
var ErrTimeout = errors.New("timeout")

// waitHidden polls isVisible until it reports false, timeout elapses or
// ctx is done. Check errors are treated like "still visible" until the
// deadline.
func waitHidden(ctx context.Context, isVisible func() (bool, error), timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		visible, err := isVisible()
		if err == nil && !visible {
			return nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
