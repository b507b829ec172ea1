package repo

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

var (
	// ErrDuplicate indicates a unique-key violation.
	ErrDuplicate = errors.New("duplicate")

	// ErrStatusChanged is returned by conditional writes when the persisted
	// status no longer matches the expected one.
	ErrStatusChanged = errors.New("status changed")

	// ErrPartialWrite is returned when a ticket-wide write touched fewer rows
	// than the ticket owns. The surrounding transaction is rolled back.
	ErrPartialWrite = errors.New("partial batch write")

	// ErrInconsistentRows means rows of one ticket disagree on their status.
	ErrInconsistentRows = errors.New("ticket rows disagree on status")
)

// isUniqueViolation recognizes duplicate keys from Postgres (SQLSTATE 23505)
// and SQLite, whose pure-Go driver reports them as plain text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// forUpdate adds a row lock on dialects that support it. SQLite serializes
// writers on its own and has no FOR UPDATE.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
