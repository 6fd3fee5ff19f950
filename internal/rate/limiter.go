// Package rate implements the in-process fixed-window rate limiter shared
// by the OTP, password-reset, and two-factor verification paths. Windows
// live only for the process lifetime: a restart clears them, which is
// acceptable for abuse mitigation but not for lockout — lockout state is
// persisted on the credential record instead.
package rate

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

const shardCount = 64

// Decision is the outcome of one CheckAndConsume call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
	// lastSweep guards the opportunistic purge of dead windows.
	lastSweep time.Time
}

// Limiter is a fixed-aligned window counter keyed by caller-supplied
// identifiers. State is owned by the instance; construct one per engine
// so tests and tenants stay isolated. Locking is per shard, never global,
// so unrelated identifiers do not serialize on each other.
type Limiter struct {
	shards     [shardCount]*shard
	now        func() time.Time
	sweepEvery time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSweepInterval overrides how often expired windows are purged.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepEvery = d
		}
	}
}

// New creates an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:        time.Now,
		sweepEvery: 5 * time.Minute,
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume counts one request against the identifier's current
// window and reports whether it is within budget. Windows are aligned to
// floor(now/windowDur), so a burst can straddle a boundary; that is an
// accepted approximation, not a precision guarantee.
func (l *Limiter) CheckAndConsume(identifier string, maxRequests int, windowDur time.Duration) Decision {
	if maxRequests <= 0 || windowDur <= 0 {
		return Decision{Allowed: true, Remaining: 0, ResetAt: l.now()}
	}

	now := l.now()
	bucket := now.UnixNano() / int64(windowDur)
	key := identifier + "#" + strconv.FormatInt(bucket, 10)
	resetAt := time.Unix(0, (bucket+1)*int64(windowDur))

	sh := l.shardFor(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.lastSweep.IsZero() {
		sh.lastSweep = now
	} else if now.Sub(sh.lastSweep) >= l.sweepEvery {
		for k, w := range sh.windows {
			if !now.Before(w.resetAt) {
				delete(sh.windows, k)
			}
		}
		sh.lastSweep = now
	}

	w, ok := sh.windows[key]
	if !ok {
		sh.windows[key] = &window{count: 1, resetAt: resetAt}
		return Decision{Allowed: true, Remaining: maxRequests - 1, ResetAt: resetAt}
	}

	if w.count >= maxRequests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Decision{Allowed: true, Remaining: maxRequests - w.count, ResetAt: w.resetAt}
}

// Peek reports the current count for an identifier's active window
// without consuming a request. Mostly useful in tests and introspection.
func (l *Limiter) Peek(identifier string, windowDur time.Duration) int {
	if windowDur <= 0 {
		return 0
	}
	bucket := l.now().UnixNano() / int64(windowDur)
	key := identifier + "#" + strconv.FormatInt(bucket, 10)

	sh := l.shardFor(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if w, ok := sh.windows[key]; ok {
		return w.count
	}
	return 0
}

// Reset drops all windows for an identifier across all buckets.
func (l *Limiter) Reset(identifier string) {
	sh := l.shardFor(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prefix := identifier + "#"
	for k := range sh.windows {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(sh.windows, k)
		}
	}
}

func (l *Limiter) shardFor(identifier string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identifier))
	return l.shards[h.Sum32()%shardCount]
}
