// Package handlers implements the HTTP endpoints: form intake, listing and
// the static site.
//
// Two response shapes coexist. The inscription endpoints keep the wire
// contract the form page's JavaScript reads ({success, message} and
// {error}). Everything else (unknown routes, disallowed methods, rate
// limiting, panics) uses ErrorResponse:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "resource not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-inscriptions/internal/http/middleware"
)

// ErrorResponse is the envelope of errors outside the inscription contract.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"resource not found"`
}

// SubmitResponse answers POST /inscription, on success and on failure.
type SubmitResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"Inscription réussie!"`
}

// ListErrorResponse is the body of a failed GET /inscriptions.
type ListErrorResponse struct {
	Error string `json:"error" example:"database is locked"`
}

// fail aborts with an ErrorResponse. 5xx are logged with the request logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is fail for the router's NoRoute and NoMethod handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// reject aborts a submission with {success:false, message}.
func reject(c *gin.Context, status int, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().Int("status", status).Str("message", msg).Msg("inscription failed")
	}
	c.AbortWithStatusJSON(status, SubmitResponse{Success: false, Message: msg})
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
