package respond

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docstore-backend/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	send(c, status, code, message, details, errorFields(c, status, code, message))
}

// Retryable sends an error response with a Retry-After header in whole
// seconds, rounded up and never below one.
func Retryable(c *gin.Context, status int, code, message string, retryAfter time.Duration, details interface{}) {
	seconds := RetryAfterSeconds(retryAfter)
	c.Header("Retry-After", strconv.Itoa(seconds))
	fields := errorFields(c, status, code, message)
	fields["retry_after_s"] = seconds
	send(c, status, code, message, details, fields)
}

// RetryAfterSeconds converts a wait into the Retry-After header value.
func RetryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func errorFields(c *gin.Context, status int, code, message string) map[string]any {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if isGuest, ok := c.Get("isGuest"); ok {
		fields["is_guest"] = isGuest
	}
	if jobID := c.GetString("jobId"); jobID != "" {
		fields["job_id"] = jobID
	}
	return fields
}

func send(c *gin.Context, status int, code, message string, details interface{}, fields map[string]any) {
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
