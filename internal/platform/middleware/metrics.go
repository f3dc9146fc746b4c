package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"vault-gateway/internal/platform/metrics"
)

// MetricsMiddleware 記錄每個請求的處理延遲
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 用路由模板做標籤，避免路徑參數造成基數爆炸
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
