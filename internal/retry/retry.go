// Package retry runs operations under a bounded exponential backoff that only
// repeats failures classified as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Class is the retry classification of a failed attempt.
type Class int

const (
	// ClassPermanent failures short-circuit the loop.
	ClassPermanent Class = iota
	// ClassTransient failures are retried until attempts run out.
	ClassTransient
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// Classifier maps an attempt error onto a Class.
type Classifier func(error) Class

// Sleeper blocks for the delay or until ctx is done.
type Sleeper func(ctx context.Context, delay time.Duration) error

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classify    Classifier
	Sleep       Sleeper
	Logger      *zap.Logger
	Operation   string
}

var errInvalidAttempts = errors.New("retry: max attempts must be at least 1")

// ExhaustedError is returned once every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Transient is implemented by errors that know their own retry class.
type Transient interface {
	Transient() bool
}

// DefaultClassifier retries errors that report themselves transient and deadline
// expiries of individual attempts. Everything else, including cancellation, is permanent.
func DefaultClassifier(err error) Class {
	if err == nil {
		return ClassPermanent
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	var transient Transient
	if errors.As(err, &transient) {
		if transient.Transient() {
			return ClassTransient
		}
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassPermanent
}

// Delay returns the wait before the given 1-based attempt: none before the first,
// then base, 2*base, 4*base...
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 2 || base <= 0 {
		return 0
	}
	return base * time.Duration(1<<uint(attempt-2))
}

// Do runs op until it succeeds, fails permanently, or MaxAttempts is reached.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts < 1 {
		return zero, errInvalidAttempts
	}
	classify := policy.Classify
	if classify == nil {
		classify = DefaultClassifier
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = contextSleep
	}
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if delay := Delay(policy.BaseDelay, attempt); delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		value, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry",
					zap.String("operation", policy.Operation),
					zap.Int("attempt", attempt))
			}
			return value, nil
		}
		lastErr = err

		class := classify(err)
		if class == ClassPermanent {
			return zero, err
		}
		logger.Debug("transient failure",
			zap.String("operation", policy.Operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err))
	}

	return zero, &ExhaustedError{Attempts: policy.MaxAttempts, Err: lastErr}
}

func contextSleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
