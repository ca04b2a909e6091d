package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/layer-3/warden/service"
)

// SetupRouter sets up the Gin router of the session sidecar
func SetupRouter(manager *service.Manager, apiProxy http.Handler, gatherer prometheus.Gatherer, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Create handlers
	handlers := NewSessionHandlers(manager)

	// Session routes
	session := router.Group("/session")
	{
		session.POST("/login", handlers.Login)
		session.POST("/logout", handlers.Logout)
		session.POST("/activity", handlers.Activity)
		session.GET("/status", handlers.Status)
	}

	// Proxied API routes
	api := router.Group("/api")
	api.Use(RequireSession(manager), TrackActivity(manager))
	{
		api.Any("/*path", ProxyHandler(apiProxy))
	}

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
