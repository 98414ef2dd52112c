package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func InjectClientMiddleware(c *Client) gin.HandlerFunc {
	return func(gc *gin.Context) {
		if c != nil && gc.Request != nil {
			gc.Request = gc.Request.WithContext(WithClient(gc.Request.Context(), c))
		}
		gc.Next()
	}
}

// WriteAuditMiddleware mirrors every API write to the remote sink after the
// handler finishes. Reads are skipped.
func WriteAuditMiddleware(c *Client, logger *zap.Logger) gin.HandlerFunc {
	if c == nil {
		return func(gc *gin.Context) { gc.Next() }
	}

	return func(gc *gin.Context) {
		start := time.Now()
		gc.Next()

		path := gc.Request.URL.Path
		method := strings.ToUpper(gc.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}

		status := gc.Writer.Status()
		dur := time.Since(start)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := c.Record(ctx, Event{
			Service: "salescrm",
			Action:  "crm_http_write",
			Level:   levelFromStatus(status),
			Details: map[string]any{
				"method":   method,
				"path":     path,
				"status":   status,
				"duration": dur.String(),
			},
		})
		if err != nil && logger != nil {
			logger.Debug("remote audit write failed", zap.Error(err))
		}
	}
}

func levelFromStatus(status int) string {
	if status >= 500 {
		return "error"
	}
	if status >= 400 {
		return "warn"
	}
	return "info"
}
