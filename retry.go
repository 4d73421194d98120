package asio

import (
	"time"

	"github.com/jpillora/backoff"
)

// DefaultRetryPolicy returns a RetryPolicy whose delays follow an
// exponential backoff with jitter, via github.com/jpillora/backoff — the
// same retry/backoff library rclone reaches for around its own backend
// dialers.
func DefaultRetryPolicy(maxAttempts int, min, max time.Duration) *RetryPolicy {
	b := &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: 2,
		Jitter: true,
	}
	return &RetryPolicy{
		MaxAttempts:   maxAttempts,
		PerAttemptTTL: max,
		NextDelay: func(attempt int) time.Duration {
			return b.ForAttempt(float64(attempt))
		},
	}
}
