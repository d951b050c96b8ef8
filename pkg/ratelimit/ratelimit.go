// Package ratelimit is sliding-window admission control keyed by
// (identifier, action).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Decision is the outcome of one admission check. RetryAfter is zero when
// allowed; when rejected it is the time remaining until the window resets
// (or the block lifts).
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type record struct {
	attempts     int
	windowStart  time.Time
	lastAttempt  time.Time
	blockedUntil time.Time
}

// Limiter tracks one record per key. The check-and-increment is atomic
// under the limiter mutex, so two callers racing at the boundary cannot
// both slip past the limit.
type Limiter struct {
	mu        sync.Mutex
	records   map[string]*record
	retention time.Duration
	clock     func() time.Time
}

// Option tweaks a Limiter.
type Option func(*Limiter)

// WithClock injects a time source for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.clock = clock }
}

// New creates a limiter whose idle records expire after retention.
func New(retention time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		records:   make(map[string]*record),
		retention: retention,
		clock:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Key builds the canonical identifier:action record key.
func Key(identifier, action string) string {
	return identifier + ":" + action
}

// Admit checks and consumes one attempt for key within a window of the
// given length allowing max requests. Records are created lazily.
func (l *Limiter) Admit(key string, window time.Duration, max int) Decision {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[key]
	if !ok {
		r = &record{attempts: 1, windowStart: now, lastAttempt: now}
		l.records[key] = r
		return Decision{Allowed: true, Remaining: max - 1}
	}

	if until := r.blockedUntil; !until.IsZero() && until.After(now) {
		r.lastAttempt = now
		return Decision{Allowed: false, Remaining: 0, RetryAfter: until.Sub(now)}
	}

	if now.Sub(r.windowStart) >= window {
		r.attempts = 1
		r.windowStart = now
		r.lastAttempt = now
		return Decision{Allowed: true, Remaining: max - 1}
	}

	r.attempts++
	r.lastAttempt = now
	if r.attempts > max {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: r.windowStart.Add(window).Sub(now),
		}
	}
	return Decision{Allowed: true, Remaining: max - r.attempts}
}

// Block rejects every attempt for key until the given time, regardless of
// the counter. A zero time lifts the block.
func (l *Limiter) Block(key string, until time.Time) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[key]
	if !ok {
		r = &record{windowStart: now, lastAttempt: now}
		l.records[key] = r
	}
	r.blockedUntil = until
}

// Reap drops records idle past the retention. Returns how many went.
func (l *Limiter) Reap() int {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, r := range l.records {
		if now.Sub(r.lastAttempt) > l.retention && !r.blockedUntil.After(now) {
			delete(l.records, key)
			n++
		}
	}
	return n
}

// StartReaper reaps on the interval until ctx ends.
func (l *Limiter) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Reap(); n > 0 {
					log.Debugf("rate limiter reaped %d idle records", n)
				}
			}
		}
	}()
}

// Len reports the live record count, for stats.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
