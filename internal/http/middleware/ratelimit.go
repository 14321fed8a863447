package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	evictEvery = 5 * time.Minute
	staleAfter = 10 * time.Minute
)

// RateLimiter applies a per-client token bucket. The webhook routes sit
// behind it so a provider misconfiguration or an abusive caller cannot
// flood the conversation engine.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	rate  float64 // tokens per second
	burst float64

	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	tokens float64
	seen   time.Time
}

// NewRateLimiter creates a limiter allowing rate requests/sec with the
// given burst per client, and starts its background eviction loop.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		burst:    float64(burst),
		stop:     make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Allow reports whether a request from the client is within the limit.
func (rl *RateLimiter) Allow(client string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[client]
	if !ok {
		v = &visitor{tokens: rl.burst, seen: now}
		rl.visitors[client] = v
	}

	v.tokens += now.Sub(v.seen).Seconds() * rl.rate
	if v.tokens > rl.burst {
		v.tokens = rl.burst
	}
	v.seen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

// Close stops the eviction loop. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
// The client key prefers X-Real-Ip, which chi's RealIP middleware sets.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if xri := r.Header.Get("X-Real-Ip"); xri != "" {
			client = xri
		}
		if !rl.Allow(client) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// janitor evicts clients not seen recently so the visitor map cannot grow
// without bound.
func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evictBefore(now.Add(-staleAfter))
		}
	}
}

func (rl *RateLimiter) evictBefore(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, v := range rl.visitors {
		if v.seen.Before(cutoff) {
			delete(rl.visitors, client)
		}
	}
}

// RateLimit wires a limiter as a chi-style middleware. The limiter lives
// for the life of the route tree, so its janitor is never stopped.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	return NewRateLimiter(rate, burst).Middleware
}
