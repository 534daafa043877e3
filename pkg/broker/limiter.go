package broker

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const minBucketIdle = time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// hiveLimiter keeps one token bucket per hive identity. Buckets outlive
// connections and are only dropped after sitting idle long enough to have
// refilled, so reconnecting never resets a hive's budget.
type hiveLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	r         rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newHiveLimiter(perSecond float64, burst int) *hiveLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	idle := time.Duration(float64(burst) / perSecond * float64(time.Second))
	if idle < minBucketIdle {
		idle = minBucketIdle
	}
	return &hiveLimiter{
		buckets: make(map[string]*bucket),
		r:       rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
	}
}

// Allow reports whether identity may publish now. A nil limiter allows everything.
func (l *hiveLimiter) Allow(identity string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.r, l.burst)}
		l.buckets[identity] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for at least l.idle, at most once per l.idle
func (l *hiveLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for identity, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, identity)
		}
	}
}

func (l *hiveLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
