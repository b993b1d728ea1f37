package httpmiddleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"geoattend/internal/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogger attaches a request-scoped logger to the request context and
// logs one line per completed request. Paths in skip are served silently.
func RequestLogger(base *slog.Logger, skip ...string) gin.HandlerFunc {
	silent := make(map[string]bool, len(skip))
	for _, p := range skip {
		silent[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		logger := base.With("request_id", id, "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), logger))
		c.Next()

		if silent[c.Request.URL.Path] {
			return
		}
		status := c.Writer.Status()
		attrs := []any{"status", status, "latency_ms", time.Since(start).Milliseconds(), "client_ip", c.ClientIP()}
		switch {
		case status >= 500:
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}
