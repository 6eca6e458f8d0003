package classeviva

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket implementation
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter spaces requests to the portal with a token bucket so a cycle
// fetching five endpoints concurrently does not burst past what the
// portal tolerates from one client.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens   float64
	refillRate  float64 // tokens per second
	tokens      float64
	lastRefill  time.Time
	waitTimeout time.Duration
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate. Zero disables limiting.
	RequestsPerSecond float64

	// BurstSize is the number of requests allowed back to back.
	BurstSize int

	// WaitTimeout bounds how long Wait blocks for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults for an unofficial client.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2.0,
		BurstSize:         5,
		WaitTimeout:       30 * time.Second,
	}
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	burst := float64(config.BurstSize)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		maxTokens:   burst,
		refillRate:  config.RequestsPerSecond,
		tokens:      burst,
		lastRefill:  time.Now(),
		waitTimeout: config.WaitTimeout,
	}
}

// ErrRateLimitWaitTimeout is returned when no token became available in time.
var ErrRateLimitWaitTimeout = errors.New("timeout waiting for rate limit")

// Wait blocks until a request may proceed, the context ends or the wait
// timeout passes, whichever comes first. A token due after the timeout
// still waits out the timeout, so a context ending earlier wins.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.refillRate <= 0 {
		return ctx.Err()
	}

	deadline := time.Now().Add(rl.waitTimeout)
	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}

		expires := false
		if rl.waitTimeout > 0 {
			if remaining := time.Until(deadline); wait >= remaining {
				wait, expires = max(remaining, 0), true
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if expires {
				return ErrRateLimitWaitTimeout
			}
		}
	}
}

// tryAcquire takes a token if one is available, otherwise it reports how
// long until the next one.
func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.lastRefill).Seconds(); elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens < 1.0 {
		return time.Duration((1.0 - rl.tokens) / rl.refillRate * float64(time.Second)), false
	}
	rl.tokens--
	return 0, true
}

// ══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - fail fast while the portal is down
// ══════════════════════════════════════════════════════════════════════════════

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed - Normal operation, requests pass through.
	CircuitClosed CircuitState = iota

	// CircuitOpen - Requests fail fast.
	CircuitOpen

	// CircuitHalfOpen - A limited number of probe requests pass through.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig contains configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Zero disables the breaker.
	FailureThreshold int

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// CircuitBreaker counts transport failures and server errors. It never
// retries; it only refuses requests while the portal looks down.
type CircuitBreaker struct {
	mu sync.Mutex

	config          CircuitBreakerConfig
	state           CircuitState
	failures        int
	probes          int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a new CircuitBreaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.HalfOpenRequests < 1 {
		config.HalfOpenRequests = 1
	}
	return &CircuitBreaker{
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() error {
	if cb == nil || cb.config.FailureThreshold <= 0 {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastStateChange) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(CircuitHalfOpen)
		cb.probes = 1
		return nil
	case CircuitHalfOpen:
		if cb.probes >= cb.config.HalfOpenRequests {
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != CircuitClosed {
		cb.setState(CircuitClosed)
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || cb.config.FailureThreshold <= 0 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.setState(CircuitOpen)
	}
}

// State returns the current state of the circuit.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// setState must be called with the lock held.
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	cb.probes = 0
	cb.lastStateChange = time.Now()
}
