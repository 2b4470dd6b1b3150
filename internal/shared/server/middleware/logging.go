package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/telemetry"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      status,
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"session_id":  c.GetString("sessionId"),
			"token_ref":   c.GetString(tokenRefKey),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if admin := AdminFromContext(c); admin != "" {
			fields["admin"] = admin
		}
		if replayed, ok := c.Get(idempotencyReplayKey); ok {
			fields["idempotency_replayed"] = replayed
		}
		if event := c.GetString("progressEvent"); event != "" {
			fields["event"] = event
		}
		telemetry.Info("request.complete", fields)
	}
}
