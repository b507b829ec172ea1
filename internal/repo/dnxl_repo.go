// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the DNXL store: remediation masters and their
// detail lines. Details are never deleted; only quantities and notes change.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/domain"
)

// DetailUpdate changes the progress columns of an existing detail line.
type DetailUpdate struct {
	ID        string
	FixedQty  int
	FailedQty int
	Note      string
}

// CreateDNXL inserts a master together with its initial details.
func CreateDNXL(ctx context.Context, db *gorm.DB, d *domain.DNXL) error {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt, d.UpdatedAt = now, now
	for i := range d.Details {
		if d.Details[i].ID == "" {
			d.Details[i].ID = uuid.NewString()
		}
		d.Details[i].DNXLID = d.ID
		d.Details[i].CreatedAt, d.Details[i].UpdatedAt = now, now
	}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FindDNXL loads a master and its details, or ErrNotFound.
func FindDNXL(ctx context.Context, db *gorm.DB, id string) (*domain.DNXL, error) {
	var d domain.DNXL
	err := db.WithContext(ctx).
		Preload("Details", func(q *gorm.DB) *gorm.DB {
			return q.Order("created_at asc, id asc")
		}).
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindDNXLByNCR lists every DNXL raised against a ticket, oldest first.
func FindDNXLByNCR(ctx context.Context, db *gorm.DB, ticketNo string) ([]domain.DNXL, error) {
	var out []domain.DNXL
	err := db.WithContext(ctx).
		Preload("Details", func(q *gorm.DB) *gorm.DB {
			return q.Order("created_at asc, id asc")
		}).
		Where("ncr_ticket_no = ?", ticketNo).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ReadDNXLStatus re-reads the persisted status of a master, locking the row
// where supported.
func ReadDNXLStatus(ctx context.Context, db *gorm.DB, id string) (string, error) {
	var statuses []string
	err := forUpdate(db.WithContext(ctx)).
		Model(&domain.DNXL{}).
		Where("id = ?", id).
		Pluck("status", &statuses).Error
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", ErrNotFound
	}
	return statuses[0], nil
}

// UpdateDNXL applies updates when the master is still in one of the expected
// statuses. It returns ErrNotFound for a missing id and ErrStatusChanged when
// the status moved on.
func UpdateDNXL(ctx context.Context, db *gorm.DB, id string, expected []string, updates map[string]any) error {
	fields := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		fields[k] = v
	}
	fields["updated_at"] = time.Now().UTC()

	res := db.WithContext(ctx).
		Model(&domain.DNXL{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := db.WithContext(ctx).Model(&domain.DNXL{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStatusChanged
}

// UpsertDNXLDetails updates progress on existing details and appends new
// ad-hoc lines. An update naming a detail that does not belong to dnxlID
// returns ErrNotFound.
func UpsertDNXLDetails(ctx context.Context, db *gorm.DB, dnxlID string, updates []DetailUpdate, added []domain.DNXLDetail) error {
	now := time.Now().UTC()
	for _, u := range updates {
		res := db.WithContext(ctx).
			Model(&domain.DNXLDetail{}).
			Where("id = ? AND dnxl_id = ?", u.ID, dnxlID).
			Updates(map[string]any{
				"fixed_qty":  u.FixedQty,
				"failed_qty": u.FailedQty,
				"note":       u.Note,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
	}
	if len(added) == 0 {
		return nil
	}
	for i := range added {
		if added[i].ID == "" {
			added[i].ID = uuid.NewString()
		}
		added[i].DNXLID = dnxlID
		added[i].AdHoc = true
		added[i].CreatedAt, added[i].UpdatedAt = now, now
	}
	return db.WithContext(ctx).Create(&added).Error
}
