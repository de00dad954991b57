// internal/api/middleware.go
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// RateLimiter implements fixed-window rate limiting per client key
type RateLimiter struct {
	visitors map[string]*visitorWindow
	mu       sync.Mutex
}

type visitorWindow struct {
	remaining int
	reset     time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{visitors: make(map[string]*visitorWindow)}
	go rl.cleanup()
	return rl
}

// cleanup drops windows that expired more than an hour ago
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.visitors {
			if now.After(w.reset) {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow reports whether the key may make another request in the current window
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (allowed bool, remaining int, reset int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, exists := rl.visitors[key]
	if !exists || now.After(w.reset) {
		w = &visitorWindow{remaining: limit - 1, reset: now.Add(window)}
		rl.visitors[key] = w
		return true, w.remaining, w.reset.Unix()
	}

	if w.remaining <= 0 {
		return false, 0, w.reset.Unix()
	}
	w.remaining--
	return true, w.remaining, w.reset.Unix()
}

var rateLimiter = NewRateLimiter()

// RateLimitMiddleware enforces a request limit per key within a time window
func RateLimitMiddleware(limit int, window time.Duration, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		allowed, remaining, reset := rateLimiter.Allow(key, limit, window)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success":   false,
				"error":     "Rate limit exceeded",
				"code":      "RATE_LIMIT_EXCEEDED",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// DefaultRateLimit applies general rate limiting by client IP
func DefaultRateLimit() gin.HandlerFunc {
	return RateLimitMiddleware(120, time.Minute, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// ChatRateLimit applies stricter limiting for LLM-backed chat endpoints
func ChatRateLimit() gin.HandlerFunc {
	return RateLimitMiddleware(30, time.Minute, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// GenerationRateLimit applies the tightest limiting for generation endpoints
// (project bootstrap and image generation are the most expensive calls)
func GenerationRateLimit() gin.HandlerFunc {
	return RateLimitMiddleware(10, time.Hour, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// RequestIDMiddleware assigns each request a traceable ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.NewID("req")
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
