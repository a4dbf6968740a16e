package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/mediaforge/backend/pkg/response"
)

// RateLimiter provides per-IP fixed-window rate limiting. When a Redis
// client is present the window counters live there (shared across
// instances); otherwise, and on any Redis error, it falls back to an
// in-process counter. This limits raw request rate and is independent of
// the daily conversion quota.
type RateLimiter struct {
	rpm   int
	redis *redis.Client

	mu       sync.Mutex
	counts   map[string]int
	windowAt time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per IP per
// minute. rpm <= 0 disables limiting. redisClient may be nil.
func NewRateLimiter(rpm int, redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{rpm: rpm, redis: redisClient, counts: map[string]int{}}
}

// Allow reports whether a request from ip is within the current window.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.rpm <= 0 {
		return true
	}
	if rl.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		key := fmt.Sprintf("ratelimit:%s:%d", ip, time.Now().Unix()/60)
		n, err := rl.redis.Incr(ctx, key).Result()
		if err == nil {
			if n == 1 {
				_ = rl.redis.Expire(ctx, key, 65*time.Second).Err()
			}
			return int(n) <= rl.rpm
		}
	}
	return rl.allowInMem(ip)
}

func (rl *RateLimiter) allowInMem(ip string) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.windowAt) > time.Minute {
		rl.counts = map[string]int{}
		rl.windowAt = now
	}
	rl.counts[ip]++
	return rl.counts[ip] <= rl.rpm
}

// RateLimit returns a middleware rejecting requests over the limit with 429.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", strconv.Itoa(60))
			response.TooManyRequests(c, "rate limit exceeded, try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
