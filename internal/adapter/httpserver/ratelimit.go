package httpserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleEviction = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// tenantRateLimiter throttles per tenant. Requests carrying an owner header
// share one bucket per owner regardless of source address; anonymous
// requests (health, admin) fall back to a per-IP bucket. Idle buckets are
// evicted so the map does not grow with tenant churn.
type tenantRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rate    rate.Limit
	burst   int
}

func newTenantRateLimiter(reqPerSecond float64, burst int) *tenantRateLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &tenantRateLimiter{
		entries: make(map[string]*limiterEntry),
		rate:    rate.Limit(reqPerSecond),
		burst:   burst,
	}
	go l.evictLoop()
	return l
}

func (l *tenantRateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// retryAfter estimates when the key's next request would be admitted.
func (l *tenantRateLimiter) retryAfter(key string) time.Duration {
	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	res := e.limiter.Reserve()
	delay := res.Delay()
	res.Cancel()
	return delay
}

func (l *tenantRateLimiter) evictLoop() {
	ticker := time.NewTicker(limiterIdleEviction)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-limiterIdleEviction)
		l.mu.Lock()
		for key, e := range l.entries {
			if e.lastSeen.Before(cutoff) {
				delete(l.entries, key)
			}
		}
		l.mu.Unlock()
	}
}

// key picks the bucket identity for a request: the owner header when the
// upstream gateway set one, the client address otherwise.
func (l *tenantRateLimiter) key(r *http.Request) string {
	if owner := r.Header.Get(ownerHeader); owner != "" {
		return "owner:" + owner
	}
	return "ip:" + r.RemoteAddr
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (l *tenantRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)
		if !l.allow(key) {
			wait := l.retryAfter(key)
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
