package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// UseRedis makes the limiters share counters through client. Passing nil
// turns them back to per-process counting.
func UseRedis(client *redis.Client) {
	redisClient = client
}

// RedisRateLimit implements a fixed-window limiter keyed by client IP using
// Redis INCR/EXPIRE. Without Redis it behaves like SimpleRateLimit.
// key format: rl:<window_seconds>:<ip>
func RedisRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	fallback := SimpleRateLimit(maxRequests, window)

	return func(c *gin.Context) {
		if redisClient == nil {
			fallback(c)
			return
		}

		key := "rl:" + strconv.FormatInt(int64(window.Seconds()), 10) + ":" + c.ClientIP()
		allowed, err := hit(c.Request.Context(), key, maxRequests, window)
		if err != nil {
			// fail-open
			c.Header("X-RateLimit-Error", "redis-error")
			c.Next()
			return
		}
		decided(limiterIP, allowed)
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// hit counts one request under key and reports whether it is within max.
func hit(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	val, err := redisClient.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if val == 1 {
		redisClient.Expire(ctx, key, window)
	}
	return val <= int64(max), nil
}
