package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fifo-allocator/internal/observability"
)

// NewRouter configures all API endpoints. metrics and gatherer may be nil.
func NewRouter(h *GinHandlers, metrics *observability.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log, metrics))

	router.GET("/healthz", h.HealthHandler())
	router.GET("/metrics", gin.WrapH(observability.Handler(gatherer)))

	v1 := router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", h.ListRunsHandler())
			runs.GET("/recent", h.RecentRunsHandler())
			runs.GET("/:symbol/:version", h.GetRunHandler())
		}

		v1.GET("/pnl", h.PnLHandler())
		v1.GET("/pnl/history", h.PnLHistoryHandler())
		v1.GET("/versions", h.ListVersionsHandler())
		v1.GET("/versions/diff", h.VersionDiffHandler())
		v1.GET("/allocations", h.AllocationsHandler())
		v1.POST("/recompute", h.RecomputeHandler())
		v1.GET("/verify", h.VerifyHandler())
		v1.POST("/config/reload", h.ReloadConfigHandler())
	}

	return router
}

// requestLogger logs each request and counts it by route template.
func requestLogger(log *zap.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordHTTPRequest(route, strconv.Itoa(status))

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			log.Error("request failed", fields...)
			return
		}
		log.Debug("request", fields...)
	}
}
