package classeviva

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: 20 * time.Millisecond})

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Allow(), "first probe after the timeout passes")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "only one probe while half-open")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	assert.NoError(t, cb.Allow())
}

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 2, WaitTimeout: 10 * time.Millisecond})

	require.NoError(t, rl.Wait(context.Background()))
	require.NoError(t, rl.Wait(context.Background()))
	assert.ErrorIs(t, rl.Wait(context.Background()), ErrRateLimitWaitTimeout)
}

func TestRateLimiter_ContextCancel(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.01, BurstSize: 1, WaitTimeout: time.Minute})
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiter_WaitsOutTimeoutBeforeGivingUp(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.01, BurstSize: 1, WaitTimeout: 30 * time.Millisecond})
	require.NoError(t, rl.Wait(context.Background()))

	start := time.Now()
	err := rl.Wait(context.Background())

	assert.ErrorIs(t, err, ErrRateLimitWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRateLimiter_CancelledWhileWaiting(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.01, BurstSize: 1, WaitTimeout: time.Minute})
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}
