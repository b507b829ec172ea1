package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/domain"
)

// AppendEvent records one audit entry for a ticket. ID and CreatedAt are
// filled when empty.
func AppendEvent(ctx context.Context, db *gorm.DB, ev *domain.TicketEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(ev).Error
}

// ListEvents returns the history of a ticket, oldest first.
func ListEvents(ctx context.Context, db *gorm.DB, ticketNo string) ([]domain.TicketEvent, error) {
	var out []domain.TicketEvent
	err := db.WithContext(ctx).
		Where("ticket_no = ?", ticketNo).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}
