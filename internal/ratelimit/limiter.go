// Package ratelimit paces remote API calls with a token bucket per endpoint
// class. A single Limiter is shared by every sync worker; it is the only
// serialization point for remote-call pacing.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Class groups remote endpoints that share a rate budget.
type Class int

const (
	// ClassMetadata covers conversation listing and user lookups.
	ClassMetadata Class = iota
	// ClassHistory covers conversation history and thread replies.
	ClassHistory
)

func (c Class) String() string {
	switch c {
	case ClassMetadata:
		return "metadata"
	case ClassHistory:
		return "history"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// TimeoutError is returned when Acquire would have to wait longer than the
// configured ceiling. Callers treat it as a transient failure.
type TimeoutError struct {
	Class Class
	Wait  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rate limit wait for %s exceeds ceiling (need %s)", e.Class, e.Wait)
}

// Config sets per-class budgets and the acquire wait ceiling.
type Config struct {
	HistoryPerMinute  int
	HistoryBurst      int
	MetadataPerMinute int
	MetadataBurst     int
	MaxWait           time.Duration
}

// Limiter is a token-bucket rate limiter with one bucket per endpoint class.
// Buckets refill continuously from a per-minute budget up to a burst cap.
// A remote throttle signal zeroes the class budget until the hinted resume
// time, overriding the normal refill schedule.
//
// Safe for concurrent use by all workers.
type Limiter struct {
	mu      sync.Mutex
	buckets map[Class]*bucket
	maxWait time.Duration
}

type bucket struct {
	tokensPerSec float64
	burst        float64
	tokens       float64
	last         time.Time
	blockedUntil time.Time
}

// New creates a limiter from per-minute budgets.
func New(cfg Config) *Limiter {
	now := time.Now()
	return &Limiter{
		buckets: map[Class]*bucket{
			ClassHistory: {
				tokensPerSec: float64(cfg.HistoryPerMinute) / 60.0,
				burst:        float64(cfg.HistoryBurst),
				tokens:       float64(cfg.HistoryBurst),
				last:         now,
			},
			ClassMetadata: {
				tokensPerSec: float64(cfg.MetadataPerMinute) / 60.0,
				burst:        float64(cfg.MetadataBurst),
				tokens:       float64(cfg.MetadataBurst),
				last:         now,
			},
		},
		maxWait: cfg.MaxWait,
	}
}

// Acquire takes one token for the given class, suspending the caller until
// budget is available. It fails with *TimeoutError when the wait would
// exceed the configured ceiling, or with ctx.Err() on cancellation.
func (l *Limiter) Acquire(ctx context.Context, class Class) error {
	deadline := time.Now().Add(l.maxWait)

	for {
		l.mu.Lock()
		b := l.buckets[class]
		now := time.Now()
		b.refill(now)

		var wait time.Duration
		switch {
		case now.Before(b.blockedUntil):
			wait = b.blockedUntil.Sub(now)
		case b.tokens >= 1.0:
			b.tokens -= 1.0
			l.mu.Unlock()
			return nil
		default:
			wait = time.Duration(float64(time.Second) * (1.0 - b.tokens) / b.tokensPerSec)
		}
		l.mu.Unlock()

		if now.Add(wait).After(deadline) {
			return &TimeoutError{Class: class, Wait: wait}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ReportThrottle records an explicit throttling signal from the remote side.
// The class budget is zeroed and refill restarts at the hinted resume time.
// In practice this is the dominant pacing path: the remote's real limits are
// opaque until violated.
func (l *Limiter) ReportThrottle(class Class, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.buckets[class]
	b.tokens = 0
	until := time.Now().Add(retryAfter)
	if until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
}

// refill adds tokens for elapsed time. While a throttle block is active the
// bucket stays empty; refill resumes from the block's expiry.
func (b *bucket) refill(now time.Time) {
	if now.Before(b.blockedUntil) {
		b.tokens = 0
		return
	}
	if b.last.Before(b.blockedUntil) {
		b.last = b.blockedUntil
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = math.Min(b.burst, b.tokens+elapsed*b.tokensPerSec)
	b.last = now
}
