// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Service errors are translated in one place (failService)
// so every endpoint reports the same failure the same way:
//
//	not found                  404 not_found
//	stale or unauthorized      409 stale_or_unauthorized
//	validation                 400 validation_failed
//	duplicate ticket           409 conflict
//	store failure              503 store_failure
//	anything else              500 internal_error
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "stale_or_unauthorized",
//	  "message": "stale or unauthorized: TRUONG_CA cannot act on cho_qc_manager"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ncr-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeStale            = "stale_or_unauthorized"
	ErrCodeValidation       = "validation_failed"
	ErrCodeStoreFailure     = "store_failure"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failService maps a service error onto the standard envelope.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTicketNotFound), errors.Is(err, services.ErrDNXLNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrStaleOrUnauthorized):
		fail(c, http.StatusConflict, ErrCodeStale, err.Error())
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrDuplicateTicket):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrStoreFailure):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreFailure, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
