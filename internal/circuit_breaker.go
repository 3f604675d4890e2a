package internal

import (
	"sync"
	"time"
)

// CircuitBreaker opens after threshold failures within window and stays open for
// openDuration. The change listener uses it to back off from a catalog database that
// keeps refusing connections.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     []time.Time
	threshold    int
	window       time.Duration
	openUntil    time.Time
	openDuration time.Duration
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, window, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		window:       window,
		openDuration: openDuration,
		failures:     make([]time.Time, 0, threshold),
		now:          time.Now,
	}
}

// RecordFailure adds a failure and opens the breaker once threshold failures fall
// inside window.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	recent := cb.failures[:0]
	for _, at := range cb.failures {
		if now.Sub(at) < cb.window {
			recent = append(recent, at)
		}
	}
	cb.failures = append(recent, now)

	if len(cb.failures) >= cb.threshold {
		cb.openUntil = now.Add(cb.openDuration)
	}
}

// RecordSuccess closes the breaker and forgets earlier failures.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
}

// OpenFor returns how long the breaker stays open, zero when it is closed.
func (cb *CircuitBreaker) OpenFor() time.Duration {
	if cb == nil {
		return 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	remaining := cb.openUntil.Sub(cb.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsOpen reports whether the breaker is open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.OpenFor() > 0
}
