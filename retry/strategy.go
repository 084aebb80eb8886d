// Package retry provides the bounded exponential backoff used when a storage
// operation fails with a transient error (deadlock victim, serialization
// conflict, busy database).
package retry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Strategy bounds and paces retries of a transient storage failure.
//
// The delay before retry n (0-based) is
//
//	min(BaseDelay * ExponentialBase^n, MaxDelay)
//
// With the defaults (50ms base, 2.0 exponential, 2s max, 5 attempts):
//
//	Retry 1: 50ms
//	Retry 2: 100ms
//	Retry 3: 200ms
//	Retry 4: 400ms
//	(attempt 5 fails → give up)
type Strategy struct {
	MaxAttempts     int           // Total attempts, the first one included
	BaseDelay       time.Duration // Delay before the first retry
	MaxDelay        time.Duration // Delay cap
	ExponentialBase float64       // Backoff multiplier (e.g., 2.0 for doubling)
}

// DefaultStrategy returns the strategy used by eventing.Store unless
// configured otherwise: 5 attempts, 50ms→2s exponential backoff.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     5,
		BaseDelay:       50 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Validate checks the strategy fields.
func (s Strategy) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&s.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&s.MaxDelay, validation.Min(s.BaseDelay)),
		validation.Field(&s.ExponentialBase, validation.Required, validation.Min(1.0)),
	)
}

// CalculateRetryDelay returns the delay before retry number retry (0-based).
func (s Strategy) CalculateRetryDelay(retry int) time.Duration {
	if retry <= 0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(retry))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// IsRetryable reports whether another attempt is allowed after attempt
// (1-based) failed.
func (s Strategy) IsRetryable(attempt int) bool {
	return attempt < s.MaxAttempts
}

// Wait sleeps for the delay that follows the failed attempt (1-based), or
// returns ctx.Err() if ctx ends first.
func (s Strategy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.CalculateRetryDelay(attempt - 1))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetRetrySchedule returns a human-readable description of the schedule.
//
// Example output:
//
//	Retry Schedule:
//	  Retry 1: after 50ms
//	  ...
//	  Retry 4: after 400ms
//	  → Give up after 5 attempts
func (s Strategy) GetRetrySchedule() string {
	var b strings.Builder
	b.WriteString("Retry Schedule:\n")
	for i := 1; i < s.MaxAttempts; i++ {
		fmt.Fprintf(&b, "  Retry %d: after %v\n", i, s.CalculateRetryDelay(i-1))
	}
	fmt.Fprintf(&b, "  → Give up after %d attempts\n", s.MaxAttempts)
	return b.String()
}
