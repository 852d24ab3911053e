package middleware

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/agentarena/api/pkg/response"
)

// RateLimiter counts requests per caller in fixed Redis windows. A nil
// client disables limiting.
type RateLimiter struct {
	redis  redis.Cmdable
	logger *slog.Logger
}

func NewRateLimiter(redisClient redis.Cmdable, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{redis: redisClient, logger: logger}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		caller := GetUserID(c)
		if caller == "" || caller == "anonymous" {
			caller = "ip:" + c.IP()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, caller)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Fail open
			rl.logger.Warn("rate limit check failed", "key", key, "error", err)
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))

		return c.Next()
	}
}

// ExperimentsLimit limits experiment submissions per hour.
func (rl *RateLimiter) ExperimentsLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("experiments", maxPerHour, time.Hour)
}

// BatchesLimit limits batch submissions per hour.
func (rl *RateLimiter) BatchesLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("batches", maxPerHour, time.Hour)
}
