// Package ratelimit provides per-(operation, source) token-bucket rate
// limiting for authentication, pairing, and session requests.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation names quotas are keyed by.
type Operation string

const (
	OpAuthentication   Operation = "authentication"
	OpPairingRequest   Operation = "pairing_request"
	OpSessionRequest   Operation = "session_request"
)

// Quota describes a token bucket's capacity and refill rate.
type Quota struct {
	// PerMinute is the number of requests allowed per minute; the
	// bucket refills continuously at capacity/period, not in bursts.
	PerMinute int
}

// DefaultQuotas returns the default per-operation quotas.
func DefaultQuotas() map[Operation]Quota {
	return map[Operation]Quota{
		OpAuthentication: {PerMinute: 5},
		OpPairingRequest: {PerMinute: 3},
		OpSessionRequest: {PerMinute: 10},
	}
}

// Result reports whether a request was accepted and, if not, how long
// until the next token is expected.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter enforces per-(operation, source) token buckets. Rate-limiter
// waits are non-preemptive: Allow returns immediately with a rejection
// rather than blocking the caller.
type Limiter struct {
	mu       sync.Mutex
	quotas   map[Operation]Quota
	buckets  map[bucketKey]*rate.Limiter
	nowFn    func() time.Time
}

type bucketKey struct {
	op     Operation
	source string
}

// New creates a Limiter with the given per-operation quotas. Use
// DefaultQuotas() for reasonable defaults, or supply a custom map to
// override individual operations.
func New(quotas map[Operation]Quota) *Limiter {
	return &Limiter{
		quotas:  quotas,
		buckets: make(map[bucketKey]*rate.Limiter),
		nowFn:   time.Now,
	}
}

// Allow checks whether a request for op from source is permitted right
// now, consuming a token if so. Unrecognized operations are always
// allowed (no configured quota means no limit).
func (l *Limiter) Allow(op Operation, source string) Result {
	quota, ok := l.quotas[op]
	if !ok || quota.PerMinute <= 0 {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	key := bucketKey{op: op, source: source}
	b, ok := l.buckets[key]
	if !ok {
		// Burst equals capacity: the limiter refills continuously at
		// capacity/period and allows bursting up to the full window's
		// worth of requests, matching a classic token bucket.
		b = rate.NewLimiter(rate.Limit(float64(quota.PerMinute)/60.0), quota.PerMinute)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	now := l.nowFn()
	reservation := b.ReserveN(now, 1)
	if !reservation.OK() {
		return Result{Allowed: false, RetryAfter: time.Minute}
	}

	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.Cancel()
		return Result{Allowed: false, RetryAfter: delay}
	}

	return Result{Allowed: true}
}

// Reset clears all tracked buckets. Intended for tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[bucketKey]*rate.Limiter)
}
