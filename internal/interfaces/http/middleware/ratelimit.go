package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/turtacn/MedPlan-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// DefaultIdleTTL is how long an untouched client bucket is kept.
const DefaultIdleTTL = 5 * time.Minute

// RateLimiter decides whether the client identified by key may proceed.
type RateLimiter interface {
	Allow(key string) (bool, Quota)
}

// Quota is the caller's standing after one Allow.
type Quota struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// TokenBucketLimiter keeps one token bucket per client key. Buckets start
// full at burst and refill at rate tokens per second.
type TokenBucketLimiter struct {
	rate    float64
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewTokenBucketLimiter returns a limiter. A positive idleTTL starts a
// sweeper that drops buckets idle for longer; call Stop to end it.
func NewTokenBucketLimiter(rate float64, burst int, idleTTL time.Duration) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &TokenBucketLimiter{
		rate:    rate,
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if idleTTL > 0 {
		go l.sweep()
	}
	return l
}

// Allow takes one token from key's bucket if one is available.
func (l *TokenBucketLimiter) Allow(key string) (bool, Quota) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(l.burst), b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now

	q := Quota{Limit: l.burst}
	if b.tokens >= 1 {
		b.tokens--
		q.Remaining = int(b.tokens)
		return true, q
	}
	q.RetryAfter = time.Second
	if l.rate > 0 {
		q.RetryAfter = time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	}
	return false, q
}

func (l *TokenBucketLimiter) sweep() {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *TokenBucketLimiter) evictIdle() {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the sweeper. Safe to call more than once.
func (l *TokenBucketLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// BucketCount returns the number of tracked clients.
func (l *TokenBucketLimiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ClientKey is the host part of r.RemoteAddr. Forwarding headers are only
// honoured when the router runs chi's RealIP first, which rewrites
// RemoteAddr for trusted proxies.
func ClientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimit rejects requests over the client's quota with 429 COMMON_007.
func RateLimit(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, q := limiter.Allow(ClientKey(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			secs := int(math.Ceil(q.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			handlers.WriteError(w, errors.New(errors.ErrCodeTooManyRequests,
				errors.DefaultMessageForCode(errors.ErrCodeTooManyRequests)))
		})
	}
}
