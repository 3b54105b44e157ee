package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"rps_duel/internal/metrics"
)

// Limiter labels for RateLimitDecisions.
const (
	limiterIP          = "ip"
	limiterParticipant = "participant"
)

func decided(limiter string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "blocked"
	}
	metrics.RateLimitDecisions.WithLabelValues(limiter, decision).Inc()
}

type clientInfo struct {
	last  time.Time
	count int
}

// SimpleRateLimit blocks clients that send more than maxRequests per window.
// Counters live in the process, so it is the fallback when Redis is not
// configured.
func SimpleRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	var mu sync.Mutex
	clients := make(map[string]*clientInfo)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		ci, ok := clients[ip]
		if !ok || now.Sub(ci.last) > window {
			clients[ip] = &clientInfo{last: now, count: 1}
			mu.Unlock()
			decided(limiterIP, true)
			c.Next()
			return
		}
		ci.count++
		count := ci.count
		mu.Unlock()

		if count > maxRequests {
			decided(limiterIP, false)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		decided(limiterIP, true)
		c.Next()
	}
}
