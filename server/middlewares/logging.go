package middlewares

import gin "github.com/gin-gonic/gin"

// LoggingMiddleware logs HTTP requests, optionally skipping the ping
// endpoint so liveness probes do not flood the logs
func LoggingMiddleware(disablePingLog bool) gin.HandlerFunc {
	logger := gin.Logger()

	if !disablePingLog {
		return logger
	}

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/ping" {
			c.Next()
			return
		}

		logger(c)
	}
}
