// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer and for the
// stale-ticket report of the scheduler.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/domain"
)

// TicketsStats returns aggregate metadata for the tickets matching f: the
// number of distinct tickets and the greatest UpdatedAt among their rows.
// When nothing matches, count is 0 and maxUpdatedAt is nil.
func TicketsStats(ctx context.Context, db *gorm.DB, f TicketFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	if count, err = CountTickets(ctx, db, f); err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	err = f.apply(db.WithContext(ctx).Model(&domain.NCRRow{})).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// StaleCounts counts, per status, the tickets outside excluded statuses whose
// last update happened before cutoff.
func StaleCounts(ctx context.Context, db *gorm.DB, cutoff time.Time, excluded []string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	q := db.WithContext(ctx).
		Model(&domain.NCRRow{}).
		Select("status, COUNT(DISTINCT ticket_no) AS n").
		Where("updated_at < ?", cutoff)
	if len(excluded) > 0 {
		q = q.Where("status NOT IN ?", excluded)
	}
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
