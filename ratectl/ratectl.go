// Package ratectl provides the default RateLimiter collaborator:
// wouldExceedBandwidth(now), timeToSubmit(now), submit(bytes).
//
// The token-bucket shape is reimplemented over golang.org/x/time/rate —
// the dependency rclone reaches for when it needs a real token bucket
// instead of a hand-rolled one.
package ratectl

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the core's RateLimiter collaborator:
//
//	{ wouldExceedBandwidth(now), timeToSubmit(now), submit(bytes) }
type Limiter interface {
	WouldExceedBandwidth(now time.Time, numBytes int) bool
	TimeToSubmit(now time.Time, numBytes int) time.Duration
	Submit(now time.Time, numBytes int)
}

// TokenBucket is the default Limiter, backed by golang.org/x/time/rate.
// Bytes, not requests, are the unit of rate.Limit: one token == one byte.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket returns a Limiter admitting at most bytesPerSecond
// sustained, with bursts up to burstBytes.
func NewTokenBucket(bytesPerSecond float64, burstBytes int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burstBytes)}
}

// WouldExceedBandwidth reports whether submitting numBytes right now would
// exceed the configured bandwidth, without consuming any tokens.
func (t *TokenBucket) WouldExceedBandwidth(now time.Time, numBytes int) bool {
	return t.limiter.TokensAt(now) < float64(numBytes)
}

// TimeToSubmit reports how long the caller must wait before numBytes could
// be submitted without exceeding bandwidth.
func (t *TokenBucket) TimeToSubmit(now time.Time, numBytes int) time.Duration {
	r := t.limiter.ReserveN(now, numBytes)
	if !r.OK() {
		// numBytes exceeds the burst size outright; fall back to a fixed
		// one-second delay so callers back off rather than spin.
		return time.Second
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now) // this call only measures; Submit performs the real reservation
	return delay
}

// Submit consumes numBytes worth of tokens, to be called once the bytes have
// actually been handed to the dispatcher.
func (t *TokenBucket) Submit(now time.Time, numBytes int) {
	_ = t.limiter.ReserveN(now, numBytes)
}

var _ Limiter = (*TokenBucket)(nil)
