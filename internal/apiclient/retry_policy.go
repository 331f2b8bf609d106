package apiclient

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds attempts and computes jittered exponential backoff.
type RetryPolicy struct {
	// MaxAttempts counts physical requests, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the collector defaults: five attempts, 1s base, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry decides whether another attempt follows a failed attempt number
// (1-based).
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind.Retryable()
}

// Backoff returns the wait before retry n (0-based): half of base*2^n, capped
// at MaxDelay, plus a random share of the other half.
func (p RetryPolicy) Backoff(n int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(n))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
