package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/keyguard/pkg/logger"
)

// IdempotencyKeyHeader lets the admin UI mark a key operation so a double submit
// cannot rotate twice.
const IdempotencyKeyHeader = "Idempotency-Key"

// Idempotency rejects a repeated Idempotency-Key from the same principal with 409.
// Requests without the header pass through. A nil client disables the check and a
// Redis error lets the request proceed.
// Idempotency 拒绝同一主体重复提交的 Idempotency-Key（返回 409）。
func Idempotency(client redis.UniversalClient, keyPrefix string, ttl time.Duration, log logger.Logger) gin.HandlerFunc {
	log = log.WithComponent("Idempotency")
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
		if client == nil || key == "" {
			c.Next()
			return
		}
		if len(key) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":             "invalid_request",
				"error_description": "Idempotency-Key is too long.",
			})
			return
		}

		principal := "anonymous"
		if session, ok := CurrentSession(c); ok {
			principal = session.UserID
		}
		redisKey := keyPrefix + ":idempotency:" + principal + ":" + key

		isNew, err := client.SetNX(c.Request.Context(), redisKey, c.Request.Method+" "+c.Request.URL.Path, ttl).Result()
		if err != nil {
			log.Error(c.Request.Context(), "idempotency check failed", err, logger.UserID(principal))
			c.Next()
			return
		}
		if !isNew {
			log.Warn(c.Request.Context(), "repeated idempotency key", logger.UserID(principal))
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":             "duplicate_request",
				"error_description": "This request has already been processed.",
			})
			return
		}
		c.Next()
	}
}
