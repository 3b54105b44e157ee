package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ParticipantRateLimit limits requests per participant rather than per IP.
// It reads the participant set by Ticket, so Ticket must run first.
func ParticipantRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	var mu sync.Mutex
	local := make(map[string]*clientInfo)

	return func(c *gin.Context) {
		participant := c.GetString(ParticipantKey)
		if participant == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var allowed bool
		if redisClient != nil {
			key := "participant_rl:" + participant + ":" + strconv.FormatInt(int64(window.Seconds()), 10)
			ok, err := hit(c.Request.Context(), key, maxRequests, window)
			if err != nil {
				c.Header("X-RateLimit-Error", "redis-error")
				c.Next()
				return
			}
			allowed = ok
		} else {
			now := time.Now()
			mu.Lock()
			ci, ok := local[participant]
			if !ok || now.Sub(ci.last) > window {
				ci = &clientInfo{last: now}
				local[participant] = ci
			}
			ci.count++
			allowed = ci.count <= maxRequests
			mu.Unlock()
		}

		decided(limiterParticipant, allowed)
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(window.Seconds()),
			})
			return
		}

		c.Next()
	}
}
