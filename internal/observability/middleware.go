package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestLogger emits one line per repository request, tagged with the
// serving repository's id. Unit and archive fetches are the hot path, so
// the line carries the matched route and bytes served rather than a dump
// of the request.
func RequestLogger(logger zerolog.Logger, server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		event.
			Str("repo", server).
			Str("method", c.Request.Method).
			Str("route", routeLabel(c)).
			Str("file", c.Param("path")+c.Param("name")).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("repo request")
	}
}

// RequestMetricsMiddleware records request counts and latency per matched
// route. Unmatched requests share one label so arbitrary client paths
// cannot inflate cardinality.
func RequestMetricsMiddleware(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		RecordHTTPRequest(server, c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
