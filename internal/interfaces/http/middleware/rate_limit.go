package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/keyguard/internal/application/dto"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// IPLimiter is a keyed token bucket.
type IPLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// IPThrottle rejects floods from a single client IP before any principal lookup runs.
// A nil limiter disables the throttle.
func IPThrottle(limiter IPLimiter, log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("IPThrottle")
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ip := c.ClientIP()
		allowed, wait := limiter.Allow(ip)
		if !allowed {
			log.Warn(c.Request.Context(), "client ip throttled", logger.String("client_ip", ip),
				logger.Duration("retry_after", wait))
			dto.SendError(c, errors.TooManyRequests(wait))
			return
		}
		c.Next()
	}
}
