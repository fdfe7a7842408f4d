package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

var errRegression = errors.New("result regressed")

// Retry re-runs a supplier whose result regressed. After MaxRetries extra
// attempts the last value is returned, or Fallback when the last attempt
// failed; the failure itself is only logged.
type Retry[T any] struct {
	Fallback     T
	MaxRetries   int
	Delay        time.Duration
	Description  string
	Hostname     string // logged only when Logger is nil
	IsRegression func(T) bool
	Logger       *slog.Logger
}

// Run calls fn until it returns a value that is not a regression or the
// retries are exhausted. Only a cancelled ctx is reported as an error.
func (r *Retry[T]) Run(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default().With("hostname", r.Hostname)
	}
	delay := r.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	maxRetries := r.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	last := r.Fallback
	attempt := 0

	err := retry.Do(ctx, retry.WithMaxRetries(uint64(maxRetries), retry.NewConstant(delay)), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			sourceRetries.Inc()
		}

		value, err := fn(ctx)
		if err != nil {
			last = r.Fallback
		} else {
			last = value
			if r.IsRegression == nil || !r.IsRegression(value) {
				return nil
			}
			err = errRegression
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Debug("Retrying",
			"description", r.Description,
			"attempt", attempt,
			"error", err,
		)
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return last, ctx.Err()
	default:
		logger.Warn("Retries exhausted",
			"description", r.Description,
			"attempts", attempt,
			"error", err,
		)
	}
	return last, nil
}
