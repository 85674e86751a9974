package daemonctl

import (
	"context"
	"time"
)

// pollUntil calls check every interval until it reports done, fails, or ctx
// ends. Transient check errors are retried; the last one is returned if ctx
// ends first.
func pollUntil(ctx context.Context, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		done, err := check(ctx)
		if err == nil && done {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
