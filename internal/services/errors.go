// Package services defines the business logic of the NCR workflow: ticket
// creation and reads, the approval/rejection/cancellation engine, the
// corrective-action branch and the DNXL remediation engine. This file
// centralizes the service-level error values so that they can be consistently
// returned by service methods and checked by callers.
//
// Services wrap these sentinels with a human-readable message
// (fmt.Errorf("%w: ...")); callers branch with errors.Is. Translation into
// HTTP status codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-ncr-backend/internal/repo"
)

var (
	// ErrTicketNotFound indicates that no row carries the ticket number.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrDNXLNotFound indicates that the remediation request does not exist.
	ErrDNXLNotFound = errors.New("dnxl not found")

	// ErrStaleOrUnauthorized is returned when the persisted status, re-read
	// right before the write, is not one the acting role may act on. It covers
	// both a concurrent action that already advanced the ticket and a role
	// acting out of turn.
	ErrStaleOrUnauthorized = errors.New("status changed or role not authorized")

	// ErrValidation is returned for missing or malformed input, such as an
	// empty rejection reason.
	ErrValidation = errors.New("validation failed")

	// ErrStoreFailure wraps any persistence error that escapes a repo call.
	ErrStoreFailure = errors.New("store failure")

	// ErrPartialWrite reports a ticket-wide write that did not reach every
	// row. The transaction was rolled back.
	ErrPartialWrite = fmt.Errorf("%w: partial batch write", ErrStoreFailure)

	// ErrDuplicateTicket is returned when an allocated ticket number is
	// already taken.
	ErrDuplicateTicket = errors.New("ticket number already exists")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func stale(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStaleOrUnauthorized, fmt.Sprintf(format, args...))
}

// storeErr converts an error escaping the repo layer. Service sentinels pass
// through unchanged.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTicketNotFound), errors.Is(err, ErrDNXLNotFound),
		errors.Is(err, ErrStaleOrUnauthorized), errors.Is(err, ErrValidation),
		errors.Is(err, ErrStoreFailure), errors.Is(err, ErrDuplicateTicket):
		return err
	case errors.Is(err, repo.ErrPartialWrite):
		return ErrPartialWrite
	default:
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
}

// outcome buckets an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStaleOrUnauthorized):
		return "stale"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrTicketNotFound), errors.Is(err, ErrDNXLNotFound):
		return "not_found"
	default:
		return "error"
	}
}
