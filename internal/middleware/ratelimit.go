package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/courseloop/simulation-backend/internal/response"
	"github.com/gin-gonic/gin"
)

// RateLimiter caps requests per client IP with a fixed window. It only
// guards the login endpoint, where the cost being limited is bcrypt work, so
// a coarse window is enough; burst smoothing is not worth per-request clock
// arithmetic here.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
}

type bucket struct {
	remaining int
	resetAt   time.Time
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
	}
	go rl.reap()
	return rl
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()

		rl.mu.Lock()
		b, ok := rl.buckets[c.ClientIP()]
		if !ok || now.After(b.resetAt) {
			b = &bucket{remaining: rl.limit, resetAt: now.Add(rl.window)}
			rl.buckets[c.ClientIP()] = b
		}
		if b.remaining == 0 {
			rl.mu.Unlock()
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		b.remaining--
		rl.mu.Unlock()

		c.Next()
	}
}

// reap drops expired buckets so idle IPs do not accumulate forever.
func (rl *RateLimiter) reap() {
	for range time.Tick(5 * time.Minute) {
		now := time.Now()
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if now.After(b.resetAt) {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}
