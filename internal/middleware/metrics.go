package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-records/internal/service"
)

// unmatchedPath labels requests that hit no route so arbitrary URLs cannot
// blow up label cardinality.
const unmatchedPath = "unmatched"

// Metrics returns middleware that records request metrics. Scrapes of the
// metrics endpoint itself are not counted.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.FullPath() == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
