package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ClientKey identifies the caller for rate limiting: the first entry
// of X-Forwarded-For when present, else the remote address.
func ClientKey(c *fiber.Ctx) string {
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	return c.IP()
}

// Middleware gates requests per client key under cfg. Every response
// carries both the standard RateLimit-* headers and the legacy
// X-RateLimit-* ones; denials get 429 with Retry-After.
func Middleware(l *Limiter, cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res := l.Check(ClientKey(c), cfg)
		if res.Remaining >= 0 {
			limit := strconv.Itoa(cfg.MaxRequests)
			remaining := strconv.Itoa(res.Remaining)
			reset := strconv.FormatInt(res.ResetTime.Unix(), 10)

			c.Set("RateLimit-Limit", limit)
			c.Set("RateLimit-Remaining", remaining)
			c.Set("RateLimit-Reset", reset)
			c.Set("X-RateLimit-Limit", limit)
			c.Set("X-RateLimit-Remaining", remaining)
			c.Set("X-RateLimit-Reset", reset)
		}

		if !res.Allowed {
			retryAfter := int(res.RetryAfter / time.Second)
			if res.RetryAfter%time.Second > 0 {
				retryAfter++
			}
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":    false,
				"code":       "RATE_LIMITED",
				"error":      "Too many requests",
				"retryAfter": retryAfter,
			})
		}
		return c.Next()
	}
}
