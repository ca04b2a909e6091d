package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/warden/service"
)

// RequireSession rejects requests while no session is active
func RequireSession(manager *service.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !manager.Session().IsActive() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No active session"})
			return
		}

		c.Next()
	}
}

// TrackActivity counts every request as user activity
func TrackActivity(manager *service.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		manager.RecordActivity(c.Request.Context())
		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
