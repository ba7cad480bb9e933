package devserver

import (
	"sync"
	"time"
)

// RateLimiter admits at most one request per interval across all clients.
// Only accepted requests move the window.
type RateLimiter struct {
	interval time.Duration
	now      func() time.Time

	lock sync.Mutex
	last time.Time
}

// NewRateLimiter returns a limiter using now as its clock; nil means
// time.Now.
func NewRateLimiter(interval time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{interval: interval, now: now}
}

// Allow reports whether a request arriving now is accepted, and records it
// if so.
func (l *RateLimiter) Allow() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	t := l.now()
	if !l.last.IsZero() && t.Sub(l.last) < l.interval {
		return false
	}
	l.last = t
	return true
}
