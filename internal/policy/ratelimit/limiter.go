// Package ratelimit implements the token bucket that paces outbound API requests.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the refill rate in requests per second. Zero or less disables limiting.
	RPS float64
	// Burst overrides the bucket capacity; the default is max(1, floor(RPS)).
	Burst int
}

// Bucket is a token bucket shared by every request of one API client.
//
// Acquisition is serialized so callers are admitted in the order they asked.
type Bucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	burst   int
	now     func() time.Time
}

// New creates a Bucket that starts full.
func New(cfg Config) *Bucket {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Max(1, math.Floor(cfg.RPS)))
	}
	return &Bucket{
		limiter: rate.NewLimiter(limit, burst),
		burst:   burst,
		now:     time.Now,
	}
}

// Wait blocks until a token is available, returning how long the caller waited.
func (b *Bucket) Wait(ctx context.Context) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.now()
	if err := b.limiter.Wait(ctx); err != nil {
		return b.now().Sub(start), fmt.Errorf("rate limit wait: %w", err)
	}
	return b.now().Sub(start), nil
}

// Tokens reports the current token level, clamped to [0, Capacity].
func (b *Bucket) Tokens() float64 {
	if b.limiter.Limit() == rate.Inf {
		return float64(b.burst)
	}
	tokens := b.limiter.TokensAt(b.now())
	return math.Min(math.Max(tokens, 0), float64(b.burst))
}

// Capacity returns the maximum number of tokens the bucket holds.
func (b *Bucket) Capacity() int {
	return b.burst
}

// Rate returns the refill rate in tokens per second, or +Inf when unlimited.
func (b *Bucket) Rate() float64 {
	if b.limiter.Limit() == rate.Inf {
		return math.Inf(1)
	}
	return float64(b.limiter.Limit())
}
