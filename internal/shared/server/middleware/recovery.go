package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"docstore-backend/internal/shared/metrics"
	"docstore-backend/internal/shared/server/respond"
	"docstore-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 envelope and logs it with the
// request, job, and document context the handler had set.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      rec,
				"stack":      string(debug.Stack()),
				"path":       c.FullPath(),
				"method":     c.Request.Method,
			}
			for ctxKey, logKey := range map[string]string{"jobId": "job_id", "documentId": "document_id", "userId": "user_id"} {
				if v := c.GetString(ctxKey); v != "" {
					fields[logKey] = v
				}
			}
			telemetry.Error("http.panic", fields)
			metrics.IncPanics()
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
		}()
		c.Next()
	}
}
