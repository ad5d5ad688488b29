package util

import (
	"sync"
	"time"
)

// Backoff is a linear, capped reconnect delay calculator.
// The n-th retry waits base*n; after maxAttempts retries it is exhausted.
// It is safe for concurrent use.
type Backoff struct {
	mu          sync.Mutex
	base        time.Duration
	maxAttempts int
	attempt     int
}

// NewBackoff returns a new Backoff with the given base delay and retry cap.
func NewBackoff(base time.Duration, maxAttempts int) *Backoff {
	return &Backoff{
		base:        base,
		maxAttempts: maxAttempts,
	}
}

// Next advances to the next attempt and returns its delay.
// It returns false once the cap has been reached; the attempt count is left unchanged.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attempt >= b.maxAttempts {
		return 0, false
	}
	b.attempt++
	return b.base * time.Duration(b.attempt), true
}

// Attempt returns the number of retries scheduled since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Exhausted reports whether no further retries are allowed.
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt >= b.maxAttempts
}

// Reset sets the attempt count back to zero.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}
