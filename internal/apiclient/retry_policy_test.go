package apiclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"server", &Error{Kind: KindServer}, 1, true},
		{"rate limited", &Error{Kind: KindRateLimited}, 2, true},
		{"timeout", fmt.Errorf("wrapped: %w", &Error{Kind: KindTimeout}), 1, true},
		{"connection", &Error{Kind: KindConnection}, 1, true},
		{"client", &Error{Kind: KindClient}, 1, false},
		{"attempts exhausted", &Error{Kind: KindServer}, 3, false},
		{"cancellation", context.Canceled, 1, false},
		{"unknown", errors.New("boom"), 1, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt), tc.name)
	}
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for n := 0; n < 8; n++ {
		full := p.BaseDelay << n
		if full > p.MaxDelay {
			full = p.MaxDelay
		}
		for i := 0; i < 20; i++ {
			got := p.Backoff(n)
			require.GreaterOrEqual(t, got, full/2, "retry %d", n)
			require.LessOrEqual(t, got, full, "retry %d", n)
		}
	}
}

func TestErrorMatchesSentinels(t *testing.T) {
	t.Parallel()

	err := statusError("http://x/y", 429)
	require.ErrorIs(t, err, ErrRateLimited)
	require.NotErrorIs(t, err, ErrServer)

	require.ErrorIs(t, statusError("u", 500), ErrServer)
	require.ErrorIs(t, statusError("u", 403), ErrClient)
	require.Contains(t, statusError("u", 503).Error(), "status 503")
	require.True(t, KindTimeout.Retryable())
	require.False(t, KindClient.Retryable())
}
