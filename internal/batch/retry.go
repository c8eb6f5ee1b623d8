package batch

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRetriesExhausted is returned when a batch keeps hitting contention
// after every attempt of the retry policy
var ErrRetriesExhausted = errors.New("batch commit retries exhausted")

// ContentionError marks a commit failure caused by a concurrent lock holder.
// Only contention errors are retried.
type ContentionError struct {
	Code string
	Err  error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("write contention (%s): %v", e.Code, e.Err)
}

func (e *ContentionError) Unwrap() error {
	return e.Err
}

// IsContention reports whether err is, or wraps, a ContentionError
func IsContention(err error) bool {
	var ce *ContentionError
	return errors.As(err, &ce)
}

// RetryPolicy bounds commit attempts and spaces them with exponential backoff
type RetryPolicy struct {
	// MaxAttempts counts the first try
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is 3 attempts with 100ms, 200ms between them
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1)))
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
