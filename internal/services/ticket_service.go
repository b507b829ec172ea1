// Package services – TicketService
//
// This file implements TicketService, which owns NCR creation and every read
// path: single tickets, filtered pages, audit history and defect-name
// suggestions. Creation tallies severities, runs the AQL evaluation for
// departments that sample, allocates the ticket number and writes all defect
// rows in one transaction.
//
// Reads are served from the generation-versioned cache when one is
// configured. Mutations never read through the cache.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/aql"
	"github.com/tbourn/go-ncr-backend/internal/cache"
	"github.com/tbourn/go-ncr-backend/internal/domain"
	"github.com/tbourn/go-ncr-backend/internal/events"
	"github.com/tbourn/go-ncr-backend/internal/observability"
	"github.com/tbourn/go-ncr-backend/internal/repo"
	"github.com/tbourn/go-ncr-backend/internal/search"
	"github.com/tbourn/go-ncr-backend/internal/workflow"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TicketService creates and reads NCR tickets.
type TicketService struct {
	DB      *gorm.DB
	Catalog *workflow.Catalog
	Cache   *cache.TicketCache
	Events  events.Publisher
	Now     func() time.Time

	// SeedDefects are suggested even before anyone recorded them.
	SeedDefects []string
}

// DefectInput is one defect line of a creation request.
type DefectInput struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Quantity int    `json:"quantity"`
	Severity string `json:"severity"`
}

// CreateInput carries the form values of a new NCR.
type CreateInput struct {
	Department     string        `json:"department"`
	Classification string        `json:"classification"`
	LotSize        int           `json:"lot_size"`
	InspectedQty   int           `json:"inspected_qty"`
	Description    string        `json:"description"`
	Images         []string      `json:"images"`
	Defects        []DefectInput `json:"defects"`
	CustomLimits   *aql.Limits   `json:"custom_limits,omitempty"`
}

// ListQuery filters a ticket page. Zero fields do not filter.
type ListQuery struct {
	Department string
	Statuses   []string
	CreatedBy  string
	Page       int
	PageSize   int
}

func (s *TicketService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *TicketService) publisher() events.Publisher {
	if s.Events == nil {
		return events.Nop{}
	}
	return s.Events
}

// Create validates in, evaluates the lot and persists the ticket. A lot that
// passes AQL is auto-completed under the PASS- numbering series; every other
// ticket starts in draft.
func (s *TicketService) Create(ctx context.Context, actor Actor, in CreateInput) (*Ticket, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("department", in.Department),
			attribute.String("actor.role", string(actor.Role)),
			attribute.Int("defects", len(in.Defects)),
		),
	)
	defer span.End()

	ticket, err := s.create(ctx, actor, in)
	observability.RecordTransition(string(events.KindTicket), "create", outcome(err))
	return ticket, err
}

func (s *TicketService) create(ctx context.Context, actor Actor, in CreateInput) (*Ticket, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Department) == "" {
		return nil, invalid("department is required")
	}
	profile, err := s.Catalog.Profile(in.Department)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if len(in.Defects) == 0 {
		return nil, invalid("at least one defect line is required")
	}
	if in.LotSize < 0 || in.InspectedQty < 0 {
		return nil, invalid("quantities must not be negative")
	}

	sevs := make([]aql.Severity, len(in.Defects))
	lines := make([]aql.Line, len(in.Defects))
	for i, d := range in.Defects {
		if strings.TrimSpace(d.Name) == "" {
			return nil, invalid("defect %d: name is required", i+1)
		}
		if d.Quantity <= 0 {
			return nil, invalid("defect %d: quantity must be positive", i+1)
		}
		sev, err := aql.ParseSeverity(d.Severity)
		if err != nil {
			return nil, invalid("defect %d: %v %q", i+1, err, d.Severity)
		}
		sevs[i] = sev
		lines[i] = aql.Line{Severity: sev, Quantity: d.Quantity}
	}

	prefix, err := s.Catalog.ResolvePrefix(profile.Code(), in.Classification)
	if err != nil {
		return nil, invalid("%v", err)
	}

	major, minor := aql.Tally(lines)
	verdict := aql.NotAvailable
	var details aql.Details
	if profile.UsesAQL() {
		verdict, details = aql.Evaluate(in.LotSize, major, minor, in.CustomLimits)
	}
	pass := verdict == aql.Pass
	status := workflow.StatusDraft
	if pass {
		status = workflow.StatusDone
	}

	now := s.now()
	var ticketNo string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := repo.NextSequence(ctx, tx, workflow.SeriesKey(prefix, now.Month(), pass))
		if err != nil {
			return err
		}
		if pass {
			ticketNo = workflow.FormatPassTicketNo(prefix, now.Month(), seq)
		} else {
			ticketNo = workflow.FormatTicketNo(prefix, now.Month(), seq)
		}
		exists, err := repo.TicketExists(ctx, tx, ticketNo)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTicket, ticketNo)
		}

		rows := make([]domain.NCRRow, len(in.Defects))
		for i, d := range in.Defects {
			rows[i] = domain.NCRRow{
				ID:             uuid.NewString(),
				TicketNo:       ticketNo,
				LineNo:         i + 1,
				CreatedBy:      actor.Name,
				Classification: strings.TrimSpace(in.Classification),
				LotSize:        in.LotSize,
				InspectedQty:   in.InspectedQty,
				Description:    strings.TrimSpace(in.Description),
				Images:         datatypes.JSONSlice[string](append([]string{}, in.Images...)),
				DefectName:     strings.TrimSpace(d.Name),
				Location:       strings.TrimSpace(d.Location),
				Quantity:       d.Quantity,
				Severity:       string(sevs[i]),
				Status:         string(status),
				TotalMajor:     major,
				TotalMinor:     minor,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if profile.UsesAQL() {
				rows[i].AQLCode = details.Code
				rows[i].AQLSampleSize = details.SampleSize
				rows[i].AQLAcMajor = details.AcMajor
				rows[i].AQLAcMinor = details.AcMinor
				rows[i].AQLResult = string(verdict)
			}
		}
		if _, err := repo.AppendRows(ctx, tx, rows); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("%w: %s", ErrDuplicateTicket, ticketNo)
			}
			return err
		}
		return repo.AppendEvent(ctx, tx, &domain.TicketEvent{
			TicketNo: ticketNo,
			Action:   "create",
			Actor:    actor.Name,
			Role:     string(actor.Role),
			ToStatus: string(status),
			Note:     string(verdict),
		})
	})
	if err != nil {
		return nil, storeErr(err)
	}

	afterCommit(ctx, s.Cache, s.publisher(), events.StatusChanged{
		Kind: events.KindTicket, ID: ticketNo, Action: "create",
		To: string(status), Actor: actor.Name, Role: string(actor.Role), At: now,
	})
	zerolog.Ctx(ctx).Info().
		Str("ticket", ticketNo).
		Str("status", string(status)).
		Str("aql", string(verdict)).
		Str("actor", actor.Name).
		Msg("ticket created")

	return s.read(ctx, ticketNo)
}

func (s *TicketService) read(ctx context.Context, ticketNo string) (*Ticket, error) {
	return loadTicket(ctx, s.DB, s.Catalog, ticketNo)
}

// Get returns one ticket, from cache when possible.
func (s *TicketService) Get(ctx context.Context, ticketNo string) (*Ticket, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("ticket.no", ticketNo)),
	)
	defer span.End()

	ticketNo = strings.ToUpper(strings.TrimSpace(ticketNo))
	if ticketNo == "" {
		return nil, invalid("ticket number is required")
	}
	key := "ticket:" + ticketNo
	var cached Ticket
	slot, hit := s.Cache.Load(ctx, key, &cached)
	if hit {
		return &cached, nil
	}
	t, err := s.read(ctx, ticketNo)
	if err != nil {
		return nil, err
	}
	s.Cache.Save(ctx, slot, t)
	return t, nil
}

func (s *TicketService) filter(q ListQuery) (repo.TicketFilter, error) {
	f := repo.TicketFilter{CreatedBy: strings.TrimSpace(q.CreatedBy)}
	for _, raw := range q.Statuses {
		st, err := workflow.ParseStatus(raw)
		if err != nil {
			return f, invalid("%v", err)
		}
		f.Statuses = append(f.Statuses, string(st))
	}
	if q.Department != "" {
		p, err := s.Catalog.Profile(q.Department)
		if err != nil {
			return f, invalid("%v", err)
		}
		for _, prefix := range p.Prefixes() {
			f.Prefixes = append(f.Prefixes, prefix, workflow.PassPrefix+"-"+prefix)
		}
	}
	return f, nil
}

// List returns one page of tickets, newest first, and the total number of
// tickets matching q.
func (s *TicketService) List(ctx context.Context, q ListQuery) ([]Ticket, int64, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("department", q.Department),
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
		),
	)
	defer span.End()

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	f, err := s.filter(q)
	if err != nil {
		return nil, 0, err
	}

	type page struct {
		Items []Ticket `json:"items"`
		Total int64    `json:"total"`
	}
	key := fmt.Sprintf("list:%s:%s:%s:%d:%d",
		strings.ToUpper(q.Department), strings.Join(f.Statuses, ","), f.CreatedBy, q.Page, q.PageSize)
	var cached page
	slot, hit := s.Cache.Load(ctx, key, &cached)
	if hit {
		return cached.Items, cached.Total, nil
	}

	total, err := repo.CountTickets(ctx, s.DB, f)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	nos, err := repo.ListTicketNosPage(ctx, s.DB, f, (q.Page-1)*q.PageSize, q.PageSize)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	rows, err := repo.ReadByTicketNos(ctx, s.DB, nos)
	if err != nil {
		return nil, 0, storeErr(err)
	}

	grouped := make(map[string][]domain.NCRRow, len(nos))
	for _, r := range rows {
		grouped[r.TicketNo] = append(grouped[r.TicketNo], r)
	}
	items := make([]Ticket, 0, len(nos))
	for _, no := range nos {
		if g := grouped[no]; len(g) > 0 {
			items = append(items, buildTicket(g, s.Catalog))
		}
	}

	s.Cache.Save(ctx, slot, page{Items: items, Total: total})
	return items, total, nil
}

// Stats returns the ticket count and latest update for q, used to build
// list ETags.
func (s *TicketService) Stats(ctx context.Context, q ListQuery) (int64, *time.Time, error) {
	f, err := s.filter(q)
	if err != nil {
		return 0, nil, err
	}
	n, latest, err := repo.TicketsStats(ctx, s.DB, f)
	if err != nil {
		return 0, nil, storeErr(err)
	}
	return n, latest, nil
}

// History returns the audit trail of a ticket, oldest first.
func (s *TicketService) History(ctx context.Context, ticketNo string) ([]domain.TicketEvent, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(attribute.String("ticket.no", ticketNo)),
	)
	defer span.End()

	ticketNo = strings.ToUpper(strings.TrimSpace(ticketNo))
	exists, err := repo.TicketExists(ctx, s.DB, ticketNo)
	if err != nil {
		return nil, storeErr(err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, ticketNo)
	}
	evs, err := repo.ListEvents(ctx, s.DB, ticketNo)
	if err != nil {
		return nil, storeErr(err)
	}
	return evs, nil
}

// SuggestDefects ranks known defect names against a partially typed query.
func (s *TicketService) SuggestDefects(ctx context.Context, query string, k int) ([]search.Result, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "SuggestDefects",
		trace.WithAttributes(attribute.Int("k", k)),
	)
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return []search.Result{}, nil
	}
	var names []string
	if slot, hit := s.Cache.Load(ctx, "defect-names", &names); !hit {
		recorded, err := repo.DistinctDefectNames(ctx, s.DB, 2000)
		if err != nil {
			return nil, storeErr(err)
		}
		names = append(recorded, s.SeedDefects...)
		s.Cache.Save(ctx, slot, names)
	}
	res := search.NewIndex(names).TopK(query, k)
	if res == nil {
		res = []search.Result{}
	}
	return res, nil
}
