// Package ratelimit limits connection attempts per remote host.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

// Limiter counts attempts per host within a sliding window.
// A nil Limiter or one built with max <= 0 allows everything.
type Limiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	max      int
	window   time.Duration
	now      func() time.Time
}

// New creates a Limiter allowing max attempts per host per window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		attempts: make(map[string][]time.Time),
		max:      max,
		window:   window,
		now:      time.Now,
	}
}

// Host strips the port from a remote address.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Allow records an attempt from host and reports whether it is within
// the limit. Denied attempts are not recorded.
func (l *Limiter) Allow(host string) bool {
	if l == nil || l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := l.recent(host, now)
	if len(valid) >= l.max {
		l.attempts[host] = valid
		return false
	}
	l.attempts[host] = append(valid, now)
	return true
}

// recent drops expired attempts for host. Caller holds l.mu.
func (l *Limiter) recent(host string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	stamps := l.attempts[host]
	valid := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// Prune forgets hosts with no attempts inside the window.
func (l *Limiter) Prune() {
	if l == nil || l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for host := range l.attempts {
		if valid := l.recent(host, now); len(valid) == 0 {
			delete(l.attempts, host)
		} else {
			l.attempts[host] = valid
		}
	}
}

// Hosts returns the number of hosts currently tracked.
func (l *Limiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}
