package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// retry runs fn under a fresh per-attempt timeout until it succeeds, fails
// with a permanent error, or runs out of attempts.
func (c *Client) retry(ctx context.Context, kind string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.backoff * time.Duration(1<<(attempt-2))
			if err := c.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%s: %w: %v", kind, ErrUnavailable, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w: %v", kind, ErrUnavailable, ctx.Err())
		}
		if !isTransient(err) {
			return fmt.Errorf("%s: %w: %v", kind, ErrUnavailable, err)
		}
		c.logger.Warn("generation attempt failed",
			zap.String("kind", kind),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Error(err))
	}
	return fmt.Errorf("%s: %w after %d attempts: %v", kind, ErrUnavailable, c.maxAttempts, lastErr)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.Code)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
