// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response and request helpers shared by every endpoint:
// the error envelope, success writers, lenient JSON binding and caller
// resolution. Server-side failures (5xx) are logged with the request-scoped
// logger; client errors are left to the access log.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "stale_or_unauthorized",
//	  "message": "stale or unauthorized: ticket is no longer in cho_truong_ca"
//	}
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ncr-backend/internal/http/middleware"
	"github.com/tbourn/go-ncr-backend/internal/services"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"stale_or_unauthorized"`
	// Human-readable message
	Message string `json:"message" example:"stale or unauthorized: ticket is no longer in cho_truong_ca"`
}

// fail aborts the request with a structured error and logs server errors.
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

// Fail is the exported variant of fail() for the router's fallback handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// bindJSON decodes the body into dst. An empty body leaves dst at its zero
// value so endpoints whose fields are all optional accept a bare POST.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// caller resolves the acting user. Mutating endpoints require one; the role
// itself is checked by the services.
func caller(c *gin.Context) (services.Actor, bool) {
	id, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "caller identity required")
		return services.Actor{}, false
	}
	return services.Actor{Name: id.Name, Role: workflow.Role(id.Role), Department: id.Department}, true
}
