package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"linkfetch/internal"
)

// Logger logs one line per request through the redacting logger
func Logger(logger *internal.SecureLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}
		status := c.Writer.Status()
		latency := time.Since(start).Round(time.Microsecond)

		switch {
		case status >= 500:
			logger.Warn("%s %s -> %d (%s) from %s", c.Request.Method, path, status, latency, c.ClientIP())
		default:
			logger.Info("%s %s -> %d (%s) from %s", c.Request.Method, path, status, latency, c.ClientIP())
		}
	}
}
