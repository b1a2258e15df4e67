package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxSessions is the session-count ceiling above which the oldest
// sessions are evicted.
const DefaultMaxSessions = 1000

// Limiter is a per-session, per-operation token-bucket registry.
//
// The session table is owned by the Limiter and only touched under mu.
// Each bucket serialises its own refill-then-consume sequence, so two
// concurrent Check calls on the same (session, operation) cannot both spend
// the last token.
type Limiter struct {
	mu          sync.Mutex
	limits      map[Operation]Limit
	buckets     map[string]map[Operation]*TokenBucket
	order       []string // session keys in insertion order
	maxSessions int
	warned      map[Operation]bool
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxSessions sets the eviction ceiling. Values <= 0 disable automatic
// eviction.
func WithMaxSessions(n int) Option {
	return func(l *Limiter) { l.maxSessions = n }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithClock overrides the time source used by new buckets.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter. A nil or empty table falls back to DefaultLimits.
func New(limits map[Operation]Limit, opts ...Option) *Limiter {
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	table := make(map[Operation]Limit, len(limits))
	for op, lim := range limits {
		table[op] = lim
	}
	l := &Limiter{
		limits:      table,
		buckets:     make(map[string]map[Operation]*TokenBucket),
		maxSessions: DefaultMaxSessions,
		warned:      make(map[Operation]bool),
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// limitFor returns the configured limit for op. Unknown operations get the
// generous DefaultLimit rather than failing closed. Callers must hold mu.
func (l *Limiter) limitFor(op Operation) Limit {
	if lim, ok := l.limits[op]; ok {
		return lim
	}
	if !l.warned[op] {
		l.warned[op] = true
		l.log.Warn().Str("operation", string(op)).Msg("unknown rate-limit operation, using default limit")
	}
	return DefaultLimit
}

func (l *Limiter) bucket(session string, op Operation) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops, ok := l.buckets[session]
	if !ok {
		ops = make(map[Operation]*TokenBucket)
		l.buckets[session] = ops
		l.order = append(l.order, session)
		if l.maxSessions > 0 && len(l.buckets) > l.maxSessions {
			l.evictLocked(l.maxSessions)
			// The new session is always the newest, so eviction never drops it.
		}
	}

	b, ok := ops[op]
	if !ok {
		lim := l.limitFor(op)
		b = newTokenBucket(lim.Capacity, lim.RefillRate, l.now)
		ops[op] = b
	}
	return b
}

// Check reports whether the operation is admitted, consuming one token if so.
func (l *Limiter) Check(session string, op Operation) bool {
	return l.bucket(session, op).Consume(1)
}

// WaitTime returns how long until the next operation would be admitted.
func (l *Limiter) WaitTime(session string, op Operation) time.Duration {
	return l.bucket(session, op).WaitTime()
}

// LimitMessage returns a user-facing description of the limit for op.
func (l *Limiter) LimitMessage(op Operation) string {
	l.mu.Lock()
	lim := l.limitFor(op)
	l.mu.Unlock()
	return FormatLimitMessage(op, lim)
}

// FormatLimitMessage states the capacity and period of lim in the coarsest
// natural unit.
func FormatLimitMessage(op Operation, lim Limit) string {
	seconds := lim.Period().Seconds()
	seconds = math.Round(seconds*1000) / 1000

	var period string
	switch {
	case seconds >= 3600:
		period = fmt.Sprintf("%.0f hour(s)", seconds/3600)
	case seconds >= 60:
		period = fmt.Sprintf("%.0f minute(s)", seconds/60)
	default:
		period = fmt.Sprintf("%.0f second(s)", seconds)
	}
	return fmt.Sprintf("Rate limit exceeded for %s: max %.0f per %s. Please wait.", op, lim.Capacity, period)
}

// Cleanup drops the oldest sessions, by insertion order, until at most
// maxSessions remain. At least half of the sessions are dropped whenever
// any are.
func (l *Limiter) Cleanup(maxSessions int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked(maxSessions)
}

func (l *Limiter) evictLocked(maxSessions int) {
	if maxSessions < 0 {
		maxSessions = 0
	}
	n := len(l.order)
	if n <= maxSessions {
		return
	}
	drop := n / 2
	if excess := n - maxSessions; excess > drop {
		drop = excess
	}
	for _, key := range l.order[:drop] {
		delete(l.buckets, key)
	}
	remaining := make([]string, n-drop)
	copy(remaining, l.order[drop:])
	l.order = remaining

	l.log.Debug().Int("evicted", drop).Int("remaining", len(l.order)).Msg("rate-limit sessions evicted")
}

// Sessions returns the number of tracked sessions.
func (l *Limiter) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Limit returns the limit applied to op.
func (l *Limiter) Limit(op Operation) Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitFor(op)
}
