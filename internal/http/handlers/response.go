// Package handlers implements the relay's HTTP endpoints.
//
// Two response shapes coexist. Event ingestion keeps the publisher contract
// of a {status, message} envelope where status is the HTTP code as a string.
// Every other endpoint answers errors with ErrorResponse carrying a stable
// code from errors.go and the request id.
//
// Example error response:
//
//	HTTP/1.1 401 Unauthorized
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "unauthorized",
//	  "message": "missing or invalid bearer token"
//	}
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/signal-relay/internal/http/middleware"
)

// ErrorResponse is the error envelope of the administrative endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"unauthorized"`
	// Human-readable message
	Message string `json:"message" example:"missing or invalid bearer token"`
}

// StatusResponse is the envelope of the event endpoints.
type StatusResponse struct {
	Status  string `json:"status" example:"200"`
	Message string `json:"message" example:"accepted"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// reply writes the {status, message} envelope with a matching HTTP status.
func reply(c *gin.Context, status int, msg string) {
	body := StatusResponse{Status: strconv.Itoa(status), Message: msg}
	if status >= http.StatusBadRequest {
		c.AbortWithStatusJSON(status, body)
		return
	}
	c.JSON(status, body)
}

func ok(c *gin.Context, body any) { c.JSON(http.StatusOK, body) }
