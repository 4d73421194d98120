package ratectl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketWouldExceedBandwidthWithinBurst(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	require.False(t, tb.WouldExceedBandwidth(now, 500), "a full burst should be admissible against an untouched bucket")
	require.True(t, tb.WouldExceedBandwidth(now, 501), "one byte over the burst size must be rejected")
}

func TestTokenBucketWouldExceedBandwidthDoesNotConsume(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	require.False(t, tb.WouldExceedBandwidth(now, 500))
	require.False(t, tb.WouldExceedBandwidth(now, 500), "WouldExceedBandwidth must be side-effect free")
}

func TestTokenBucketSubmitConsumesTokens(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	tb.Submit(now, 500)
	require.True(t, tb.WouldExceedBandwidth(now, 1), "the bucket should be drained immediately after a full-burst submit")
}

func TestTokenBucketTimeToSubmitZeroWhenAdmissible(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	require.Zero(t, tb.TimeToSubmit(now, 500))
}

func TestTokenBucketTimeToSubmitPositiveWhenDrained(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	tb.Submit(now, 500)
	wait := tb.TimeToSubmit(now, 500)
	require.Greater(t, wait, time.Duration(0))
	// At 1000 bytes/sec, refilling 500 bytes takes half a second.
	require.InDelta(t, 500*time.Millisecond, wait, float64(10*time.Millisecond))
}

func TestTokenBucketTimeToSubmitDoesNotReserve(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	tb.Submit(now, 500)
	first := tb.TimeToSubmit(now, 100)
	second := tb.TimeToSubmit(now, 100)
	require.Equal(t, first, second, "measuring TimeToSubmit twice must not change the answer")
}

func TestTokenBucketTimeToSubmitOverBurstFallsBack(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	wait := tb.TimeToSubmit(now, 10000)
	require.Equal(t, time.Second, wait, "a request larger than the burst can never be reserved; callers must back off")
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(1000, 500)
	now := time.Now()

	tb.Submit(now, 500)
	require.True(t, tb.WouldExceedBandwidth(now, 500))

	later := now.Add(time.Second)
	require.False(t, tb.WouldExceedBandwidth(later, 500), "a full second at 1000B/s should refill the whole burst")
}
