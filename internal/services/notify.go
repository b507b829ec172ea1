package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/cache"
	"github.com/tbourn/go-ncr-backend/internal/events"
	"github.com/tbourn/go-ncr-backend/internal/repo"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// afterCommit invalidates read caches and announces the change. Neither step
// can undo the committed write, so failures are only logged.
func afterCommit(ctx context.Context, c *cache.TicketCache, p events.Publisher, ev events.StatusChanged) {
	if err := c.Invalidate(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("cache invalidation failed")
	}
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("id", ev.ID).Msg("event publish failed")
	}
}

// loadTicket reads a ticket straight from the store, bypassing the cache.
func loadTicket(ctx context.Context, db *gorm.DB, cat *workflow.Catalog, ticketNo string) (*Ticket, error) {
	rows, err := repo.ReadByTicketNo(ctx, db, ticketNo)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, ticketNo)
		}
		return nil, storeErr(err)
	}
	t := buildTicket(rows, cat)
	return &t, nil
}
