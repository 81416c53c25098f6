package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy controls how often and how fast an operation is retried.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64
}

// Startup is used while the service boots (endpoint validation, redis).
// Balance fetches never retry: they get one fallback attempt and nothing else.
func Startup() Policy {
	return Policy{
		Attempts: 5,
		Base:     500 * time.Millisecond,
		Max:      10 * time.Second,
		Factor:   2,
		Jitter:   0.15,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	factor := math.Max(p.Factor, 1)
	d := float64(p.Base) * math.Pow(factor, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do stops retrying and returns err as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, ctx is done or the
// attempts of p are spent.
func Do(ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", op, err)
		}

		err := fn(ctx)
		var perm permanentError
		switch {
		case err == nil:
			if attempt > 1 {
				logger.Info("Operation succeeded after retries",
					zap.String("operation", op),
					zap.Int("attempts", attempt))
			}
			return nil
		case errors.As(err, &perm):
			return perm.err
		case attempt >= attempts:
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}

		delay := p.Delay(attempt)
		logger.Warn("Operation failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
}
