// Package httpapi exposes the keep-alive HTTP surface: liveness plus a few
// runtime counters for dashboards and load-balancer checks.
package httpapi

import (
	"net/http"
	"time"

	"sigscan/internal/engine"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin router over the running engine.
func NewRouter(e *engine.Engine, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	startedAt := time.Now()
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(startedAt).Truncate(time.Second).String(),
			"topics": e.Registry().Len(),
		})
	}
	r.GET("/", health)
	r.GET("/healthz", health)

	return r
}

// Serve runs the router until the listener fails. Meant to be launched in
// its own goroutine.
func Serve(addr string, router *gin.Engine, logger *zap.Logger) {
	logger.Info("http endpoint listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Error("http endpoint stopped", zap.Error(err))
	}
}
