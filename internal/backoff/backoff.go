// Package backoff provides retry delay strategies. Every strategy is stateless and
// non-decreasing in the attempt number, so a later retry never waits less than an
// earlier one.
package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Strategy names accepted by New.
const (
	KindConstant    = "constant"
	KindLinear      = "linear"
	KindExponential = "exponential"
)

// maxShift bounds the exponent so that 1<<shift fits in an int64.
const maxShift = 62

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear returns min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if l.Initial > 0 && int64(attempt) > math.MaxInt64/int64(l.Initial) {
		return capDelay(time.Duration(math.MaxInt64), l.Max)
	}
	return capDelay(l.Initial*time.Duration(attempt), l.Max)
}

// Exponential returns min(Initial * 2^(attempt-1), Max) with overflow protection.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if e.Initial <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	} else if shift > maxShift {
		shift = maxShift
	}

	multiplier := int64(1) << shift
	if int64(e.Initial) > math.MaxInt64/multiplier {
		return capDelay(time.Duration(math.MaxInt64), e.Max)
	}
	return capDelay(e.Initial*time.Duration(multiplier), e.Max)
}

// New returns the strategy named by kind.
func New(kind string, initial, maxDelay time.Duration) (Strategy, error) {
	switch kind {
	case KindConstant:
		return NewConstant(initial), nil
	case KindLinear:
		return NewLinear(initial, maxDelay), nil
	case KindExponential, "":
		return NewExponential(initial, maxDelay), nil
	default:
		return nil, fmt.Errorf(
			"invalid backoff strategy: %s (valid options: constant, linear, exponential)",
			kind,
		)
	}
}

// DefaultStrategy is exponential from 2s, capped at 5m.
func DefaultStrategy() Strategy {
	return NewExponential(2*time.Second, 5*time.Minute)
}

// SleepWithContext sleeps for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

func capDelay(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
