package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"lovelink/internal/infrastructure/ratelimit"
	"lovelink/pkg/errors"
	"lovelink/pkg/logger"
	"lovelink/pkg/response"
)

// RateLimit bounds action per authenticated user. It must run after Authenticate.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid, _ := c.Get(ContextKeyUID).(string)
			if uid == "" {
				uid = c.RealIP()
			}

			allowed, wait := limiter.Allow(uid, action)
			if !allowed {
				logger.Warn("RATE LIMIT: %s blocked for %s (retry in %v)", action, uid, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded, try again later"))
			}

			return next(c)
		}
	}
}
