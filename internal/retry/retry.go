package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/goran-ethernal/ChainSync/pkg/config"
)

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}

var transientMarkers = []string{
	// timeouts
	"timeout",
	"deadline exceeded",
	// rate limiting
	"429",
	"too many requests",
	"rate limit",
	// temporary server errors
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	// connection pool
	"connection pool",
	"no available connection",
	// sqlite lock contention
	"database is locked",
}

// Always retries every error.
func Always(error) bool { return true }

// Backoff computes the wait before the given attempt, with ±25% jitter.
// The first attempt never waits.
func Backoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	jitterRange := backoff * 0.25
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// Do runs fn until it succeeds, returns a non-retryable error, or cfg.MaxAttempts is reached.
func Do(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	return DoWhen(ctx, cfg, operation, IsRetryable, fn)
}

// DoWhen is Do with a custom retry predicate.
// A nil cfg runs fn once.
func DoWhen(
	ctx context.Context,
	cfg *config.RetryConfig,
	operation string,
	shouldRetry func(error) bool,
	fn func() error,
) error {
	if cfg == nil {
		return fn()
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || isContextErr(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		if wait := Backoff(attempt+1, cfg); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}

		retriesInc(operation)
	}

	return fmt.Errorf("all %d attempts of %s failed after %v (last error: %w)",
		cfg.MaxAttempts, operation, time.Since(startTime), lastErr)
}

// isContextErr keeps a cancelled caller from being retried.
// A deadline hit by a single call is still transient.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled)
}
