package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docparse-backend/internal/shared/telemetry"
)

// Logging writes one request.complete line per request. Server errors log at
// error level and client errors at warn so rejected uploads stand out.
// Probe traffic on /metrics and the health check is not logged.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.Method == http.MethodOptions || path == "/metrics" || strings.HasSuffix(path, "/health") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		documentID, _ := c.Get("documentId")
		format, _ := c.Get("format")
		isGuest, _ := c.Get("isGuest")
		fields := map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"path":              path,
			"route":             c.FullPath(),
			"status":            status,
			"status_transition": c.GetString("statusTransition"),
			"duration_ms":       float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes_in":          c.Request.ContentLength,
			"user_id":           UserIDFromContext(c),
			"document_id":       documentID,
			"format":            format,
			"is_guest":          isGuest,
			"client_ip":         c.ClientIP(),
		}
		if reason := c.GetString("rejectReason"); reason != "" {
			fields["reject_reason"] = reason
		}

		switch {
		case status >= http.StatusInternalServerError:
			telemetry.Error("request.complete", fields)
		case status >= http.StatusBadRequest:
			telemetry.Warn("request.complete", fields)
		default:
			telemetry.Info("request.complete", fields)
		}
	}
}
