// Package retry provides exponential backoff for operations that depend on an
// external component catching up, such as the profiling agent finishing a write.
//
// Backoff for attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped at
// MaxBackoff when set. Jitter grows linearly with the attempt number. Every wait
// honors context cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotReady is returned by Until when the condition never became true.
var ErrNotReady = errors.New("condition not met")

// Config defines the retry behavior for exponential backoff operations.
//
// The zero value is not usable; MaxRetries and InitialBackoff must be set.
type Config struct {
	// MaxRetries is the maximum number of attempts. Must be greater than 0.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to Jitter*backoff (0.0 to 1.0), scaled by attempt/MaxRetries.
	Jitter float64
}

// ShouldRetryFunc reports whether err is worth another attempt.
// A nil ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do executes fn with exponential backoff retry.
//
// It returns nil on the first success, the error itself when shouldRetry rejects it,
// ctx.Err() when the context ends during a wait, and otherwise an error wrapping the
// last failure once MaxRetries attempts are spent.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, calculateBackoff(cfg, attempt)); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// Until polls cond with backoff until it reports true.
// An error from cond aborts immediately. Exhausting the attempts yields ErrNotReady.
func Until(ctx context.Context, cfg Config, cond func() (bool, error)) error {
	var condErr error
	err := Do(ctx, cfg, func() error {
		ok, err := cond()
		if err != nil {
			condErr = err
			return err
		}
		if !ok {
			return ErrNotReady
		}
		return nil
	}, func(err error) bool {
		return errors.Is(err, ErrNotReady)
	})
	if condErr != nil {
		return condErr
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateBackoff computes the wait before the given attempt.
//
// With InitialBackoff=100ms, MaxBackoff=1s, Jitter=0.5, MaxRetries=5:
//   - Attempt 1: 100ms base + 10ms jitter = 110ms
//   - Attempt 2: 200ms base + 40ms jitter = 240ms
//   - Attempt 3: 400ms base + 120ms jitter = 520ms
//   - Attempt 4: 800ms base + 320ms jitter = 1.12s
func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 {
		jitterAmount := float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}
