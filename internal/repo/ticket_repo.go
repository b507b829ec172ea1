// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the NCR ticket store.
//
// A ticket is the set of ncr_rows sharing one ticket_no. Reads return every
// row of a ticket ordered by line number; writes always target every row of
// a ticket at once and are conditional on the status the caller expects.
//
// Error semantics:
//   - ErrNotFound when no row carries the ticket number.
//   - ErrStatusChanged when a conditional write matched no rows.
//   - ErrPartialWrite when it matched only some of them (rolled back).
//   - ErrDuplicate when appended rows collide with existing ids.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-ncr-backend/internal/domain"
)

// TicketFilter narrows ticket reads. Zero fields do not filter.
type TicketFilter struct {
	Statuses  []string
	Prefixes  []string // ticket-number prefixes, e.g. ["FI", "PASS-FI"]
	CreatedBy string
	Since     *time.Time
	Until     *time.Time
}

func (f TicketFilter) apply(q *gorm.DB) *gorm.DB {
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.Prefixes) > 0 {
		or := q.Session(&gorm.Session{NewDB: true})
		for i, p := range f.Prefixes {
			if i == 0 {
				or = or.Where("ticket_no LIKE ?", p+"-%")
			} else {
				or = or.Or("ticket_no LIKE ?", p+"-%")
			}
		}
		q = q.Where(or)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		q = q.Where("created_at < ?", *f.Until)
	}
	return q
}

// ReadFiltered returns every row matching f, newest tickets first. The zero
// filter matches every row.
func ReadFiltered(ctx context.Context, db *gorm.DB, f TicketFilter) ([]domain.NCRRow, error) {
	var out []domain.NCRRow
	err := f.apply(db.WithContext(ctx).Model(&domain.NCRRow{})).
		Order("created_at desc, ticket_no desc, line_no asc").
		Find(&out).Error
	return out, err
}

// CountTickets returns the number of distinct tickets matching f.
func CountTickets(ctx context.Context, db *gorm.DB, f TicketFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.NCRRow{})).
		Distinct("ticket_no").
		Count(&total).Error
	return total, err
}

// ListTicketNosPage returns one page of distinct ticket numbers matching f,
// ordered by first creation time descending. The caller is responsible for
// computing offset and limit (e.g., (page-1)*pageSize).
func ListTicketNosPage(ctx context.Context, db *gorm.DB, f TicketFilter, offset, limit int) ([]string, error) {
	var rows []struct{ TicketNo string }
	err := f.apply(db.WithContext(ctx).Model(&domain.NCRRow{})).
		Select("ticket_no, MIN(created_at) AS first_at").
		Group("ticket_no").
		Order("first_at desc, ticket_no desc").
		Offset(offset).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.TicketNo
	}
	return out, nil
}

// ReadByTicketNos returns the rows of several tickets in one query.
func ReadByTicketNos(ctx context.Context, db *gorm.DB, ticketNos []string) ([]domain.NCRRow, error) {
	var out []domain.NCRRow
	if len(ticketNos) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("ticket_no IN ?", ticketNos).
		Order("ticket_no asc, line_no asc").
		Find(&out).Error
	return out, err
}

// ReadByTicketNo returns every row of a ticket ordered by line number, or
// ErrNotFound when the ticket has none.
func ReadByTicketNo(ctx context.Context, db *gorm.DB, ticketNo string) ([]domain.NCRRow, error) {
	var out []domain.NCRRow
	err := db.WithContext(ctx).
		Where("ticket_no = ?", ticketNo).
		Order("line_no asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// ReadStatus reads the persisted status of a ticket straight from the store.
// Inside a transaction the rows are locked on dialects that support it. Rows
// that disagree on status yield ErrInconsistentRows.
func ReadStatus(ctx context.Context, db *gorm.DB, ticketNo string) (string, error) {
	var statuses []string
	err := forUpdate(db.WithContext(ctx)).
		Model(&domain.NCRRow{}).
		Where("ticket_no = ?", ticketNo).
		Pluck("status", &statuses).Error
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", ErrNotFound
	}
	for _, s := range statuses[1:] {
		if s != statuses[0] {
			return "", ErrInconsistentRows
		}
	}
	return statuses[0], nil
}

// BatchWrite applies updates to every row of ticketNo whose status is still
// expected. The write is all-or-nothing: matching no rows returns
// ErrStatusChanged, matching only some returns ErrPartialWrite and rolls the
// write back. updated_at is always refreshed.
func BatchWrite(ctx context.Context, db *gorm.DB, ticketNo, expected string, updates map[string]any) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&domain.NCRRow{}).Where("ticket_no = ?", ticketNo).Count(&total).Error; err != nil {
			return err
		}
		if total == 0 {
			return ErrNotFound
		}

		fields := make(map[string]any, len(updates)+1)
		for k, v := range updates {
			fields[k] = v
		}
		fields["updated_at"] = time.Now().UTC()

		res := tx.Model(&domain.NCRRow{}).
			Where("ticket_no = ? AND status = ?", ticketNo, expected).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		switch {
		case res.RowsAffected == 0:
			return ErrStatusChanged
		case res.RowsAffected != total:
			return ErrPartialWrite
		}
		return nil
	})
}

// AppendRows inserts new defect rows and returns how many were written.
func AppendRows(ctx context.Context, db *gorm.DB, rows []domain.NCRRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return len(rows), nil
}

// TicketExists reports whether any row carries ticketNo.
func TicketExists(ctx context.Context, db *gorm.DB, ticketNo string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.NCRRow{}).
		Where("ticket_no = ?", ticketNo).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// NextSequence atomically increments and returns the counter of a numbering
// series, creating it at 1 on first use.
func NextSequence(ctx context.Context, db *gorm.DB, series string) (int, error) {
	var seq domain.NCRSequence
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		row := domain.NCRSequence{Series: series, Seq: 1, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "series"}},
			DoUpdates: clause.Assignments(map[string]any{
				"seq":        gorm.Expr("ncr_sequences.seq + 1"),
				"updated_at": now,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("series = ?", series).First(&seq).Error
	})
	return seq.Seq, err
}

// DistinctDefectNames returns every recorded defect name once, most recently
// recorded first, capped at limit when limit > 0.
func DistinctDefectNames(ctx context.Context, db *gorm.DB, limit int) ([]string, error) {
	var rows []struct {
		DefectName string
	}
	q := db.WithContext(ctx).
		Model(&domain.NCRRow{}).
		Select("defect_name, MAX(created_at) AS last_at").
		Where("defect_name <> ''").
		Group("defect_name").
		Order("last_at desc, defect_name asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.DefectName
	}
	return out, nil
}
