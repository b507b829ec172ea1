// Package services – DNXLService
//
// This file implements the remediation-request (DNXL) engine. A DNXL is
// raised by the QC manager against an NCR, claimed by one worker, worked and
// submitted, then reviewed. The reviewer may also close any open request
// directly (force-complete) to record a resolution reached outside the
// system.
//
// A DNXL's lifecycle is independent of its parent ticket: a ticket may be
// completed while its DNXLs are still open, and vice versa.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/domain"
	"github.com/tbourn/go-ncr-backend/internal/events"
	"github.com/tbourn/go-ncr-backend/internal/observability"
	"github.com/tbourn/go-ncr-backend/internal/repo"
	"github.com/tbourn/go-ncr-backend/internal/workflow"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DNXLService runs the remediation sub-workflow.
type DNXLService struct {
	DB     *gorm.DB
	Events events.Publisher
	Now    func() time.Time
}

// DNXLDetailInput is a defect line requested for remediation.
type DNXLDetailInput struct {
	DefectName  string `json:"defect_name"`
	AssignedQty int    `json:"assigned_qty"`
	Note        string `json:"note"`
}

// CreateDNXLInput describes a new remediation request.
type CreateDNXLInput struct {
	Scope       string            `json:"scope"`
	Instruction string            `json:"instruction"`
	Deadline    *time.Time        `json:"deadline,omitempty"`
	Details     []DNXLDetailInput `json:"details"`
}

// DetailProgress reports work done on an existing detail line.
type DetailProgress struct {
	ID        string `json:"id"`
	FixedQty  int    `json:"fixed_qty"`
	FailedQty int    `json:"failed_qty"`
	Note      string `json:"note"`
}

// AddedDetail is a line discovered during the work. It was not part of the
// request, so it carries no assigned quantity.
type AddedDetail struct {
	DefectName  string `json:"defect_name"`
	AssignedQty int    `json:"assigned_qty"`
	FixedQty    int    `json:"fixed_qty"`
	FailedQty   int    `json:"failed_qty"`
	Note        string `json:"note"`
}

// ProgressInput is a worker's submission.
type ProgressInput struct {
	Updates  []DetailProgress `json:"updates"`
	Added    []AddedDetail    `json:"added"`
	Response string           `json:"response"`
	Images   []string         `json:"images"`
}

func (s *DNXLService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *DNXLService) record(action string, err error) {
	observability.RecordTransition(string(events.KindDNXL), action, outcome(err))
}

func (s *DNXLService) announce(ctx context.Context, actor Actor, id, action string, from, to workflow.DNXLStatus) {
	if s.Events != nil {
		ev := events.StatusChanged{
			Kind: events.KindDNXL, ID: id, Action: action,
			From: string(from), To: string(to),
			Actor: actor.Name, Role: string(actor.Role), At: s.now(),
		}
		if err := s.Events.Publish(ctx, ev); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("id", id).Msg("event publish failed")
		}
	}
	zerolog.Ctx(ctx).Info().
		Str("dnxl", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor.Name).
		Str("role", string(actor.Role)).
		Msg("dnxl transitioned")
}

func requireQC(actor Actor, op string) error {
	if actor.Role != workflow.RoleQCManager {
		return stale("%s cannot %s remediation requests", actor.Role, op)
	}
	return nil
}

// Create raises a remediation request against a ticket. The parent must
// exist and must not be cancelled; its approval status is otherwise
// irrelevant.
func (s *DNXLService) Create(ctx context.Context, actor Actor, ticketNo string, in CreateDNXLInput) (*domain.DNXL, error) {
	tr := otel.Tracer("services/DNXLService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("ticket.no", ticketNo),
			attribute.Int("details", len(in.Details)),
		),
	)
	defer span.End()

	d, err := s.create(ctx, actor, normTicketNo(ticketNo), in)
	s.record("create", err)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, actor, d.ID, "create", "", workflow.DNXLCreated)
	return d, nil
}

func (s *DNXLService) create(ctx context.Context, actor Actor, ticketNo string, in CreateDNXLInput) (*domain.DNXL, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := requireQC(actor, "create"); err != nil {
		return nil, err
	}
	scope := strings.TrimSpace(in.Scope)
	if scope == "" {
		return nil, invalid("scope is required")
	}
	details := make([]domain.DNXLDetail, 0, len(in.Details))
	for i, d := range in.Details {
		name := strings.TrimSpace(d.DefectName)
		if name == "" {
			return nil, invalid("detail %d: defect name is required", i+1)
		}
		if d.AssignedQty < 0 {
			return nil, invalid("detail %d: assigned quantity must not be negative", i+1)
		}
		details = append(details, domain.DNXLDetail{
			DefectName:  name,
			AssignedQty: d.AssignedQty,
			Note:        strings.TrimSpace(d.Note),
		})
	}

	d := &domain.DNXL{
		NCRTicketNo: ticketNo,
		Scope:       scope,
		Instruction: strings.TrimSpace(in.Instruction),
		Deadline:    in.Deadline,
		Status:      string(workflow.DNXLCreated),
		CreatedBy:   actor.Name,
		Images:      datatypes.JSONSlice[string]{},
		Details:     details,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent, err := repo.ReadStatus(ctx, tx, ticketNo)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrTicketNotFound, ticketNo)
			}
			return err
		}
		if workflow.Status(parent) == workflow.StatusCancelled {
			return stale("ticket %s is cancelled", ticketNo)
		}
		return repo.CreateDNXL(ctx, tx, d)
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return s.get(ctx, d.ID)
}

func (s *DNXLService) get(ctx context.Context, id string) (*domain.DNXL, error) {
	d, err := repo.FindDNXL(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDNXLNotFound, id)
		}
		return nil, storeErr(err)
	}
	return d, nil
}

// Get returns a request with its details.
func (s *DNXLService) Get(ctx context.Context, id string) (*domain.DNXL, error) {
	tr := otel.Tracer("services/DNXLService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("dnxl.id", id)),
	)
	defer span.End()

	return s.get(ctx, strings.TrimSpace(id))
}

// ListByNCR returns every request raised against a ticket, oldest first.
func (s *DNXLService) ListByNCR(ctx context.Context, ticketNo string) ([]domain.DNXL, error) {
	tr := otel.Tracer("services/DNXLService")
	ctx, span := tr.Start(ctx, "ListByNCR",
		trace.WithAttributes(attribute.String("ticket.no", ticketNo)),
	)
	defer span.End()

	ticketNo = normTicketNo(ticketNo)
	exists, err := repo.TicketExists(ctx, s.DB, ticketNo)
	if err != nil {
		return nil, storeErr(err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, ticketNo)
	}
	out, err := repo.FindDNXLByNCR(ctx, s.DB, ticketNo)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// dnxlDecideFunc authorizes an action against the persisted request and
// returns the target status and field updates. It may write details via tx.
type dnxlDecideFunc func(tx *gorm.DB, cur workflow.DNXLStatus, d *domain.DNXL) (workflow.DNXLStatus, map[string]any, error)

// apply re-reads the request inside a transaction, lets decide authorize and
// compute the change, then writes it conditional on the status read.
func (s *DNXLService) apply(ctx context.Context, actor Actor, id, action string, decide dnxlDecideFunc) (*domain.DNXL, error) {
	tr := otel.Tracer("services/DNXLService")
	ctx, span := tr.Start(ctx, action,
		trace.WithAttributes(
			attribute.String("dnxl.id", id),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	var from, to workflow.DNXLStatus
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		raw, err := repo.ReadDNXLStatus(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrDNXLNotFound, id)
			}
			return err
		}
		d, err := repo.FindDNXL(ctx, tx, id)
		if err != nil {
			return err
		}
		cur := workflow.DNXLStatus(raw)
		next, updates, err := decide(tx, cur, d)
		if err != nil {
			return err
		}

		fields := make(map[string]any, len(updates)+1)
		for k, v := range updates {
			fields[k] = v
		}
		fields["status"] = string(next)
		if err := repo.UpdateDNXL(ctx, tx, id, []string{raw}, fields); err != nil {
			if errors.Is(err, repo.ErrStatusChanged) {
				return stale("request %s is no longer %s", id, raw)
			}
			return err
		}
		from, to = cur, next
		return nil
	})
	err = storeErr(err)
	s.record(action, err)
	if err != nil {
		if errors.Is(err, ErrStaleOrUnauthorized) {
			zerolog.Ctx(ctx).Warn().
				Str("dnxl", id).
				Str("action", action).
				Str("actor", actor.Name).
				Err(err).
				Msg("dnxl transition refused")
		}
		return nil, err
	}
	s.announce(ctx, actor, id, action, from, to)
	return s.get(ctx, id)
}

// Claim assigns a created request to the acting worker. Only one of several
// concurrent claimants succeeds; the others see the status moved on.
func (s *DNXLService) Claim(ctx context.Context, actor Actor, id string) (*domain.DNXL, error) {
	if err := actor.validate(); err != nil {
		s.record("claim", err)
		return nil, err
	}
	return s.apply(ctx, actor, strings.TrimSpace(id), "claim", func(_ *gorm.DB, cur workflow.DNXLStatus, _ *domain.DNXL) (workflow.DNXLStatus, map[string]any, error) {
		if !cur.CanClaim() {
			return "", nil, stale("request is %s, not %s", cur, workflow.DNXLCreated)
		}
		now := s.now()
		return workflow.DNXLInProgress, map[string]any{
			"claimed_by": actor.Name,
			"claimed_at": &now,
		}, nil
	})
}

// SubmitProgress records the claimant's work on the detail lines and sends
// the request to review.
func (s *DNXLService) SubmitProgress(ctx context.Context, actor Actor, id string, in ProgressInput) (*domain.DNXL, error) {
	err := actor.validate()
	if err == nil {
		err = validateProgress(&in)
	}
	if err != nil {
		s.record("submit", err)
		return nil, err
	}

	return s.apply(ctx, actor, strings.TrimSpace(id), "submit", func(tx *gorm.DB, cur workflow.DNXLStatus, d *domain.DNXL) (workflow.DNXLStatus, map[string]any, error) {
		if !cur.CanSubmit() {
			return "", nil, stale("request is %s, progress cannot be submitted", cur)
		}
		if d.ClaimedBy != actor.Name {
			return "", nil, stale("request is claimed by %q", d.ClaimedBy)
		}

		updates := make([]repo.DetailUpdate, len(in.Updates))
		for i, u := range in.Updates {
			updates[i] = repo.DetailUpdate{ID: u.ID, FixedQty: u.FixedQty, FailedQty: u.FailedQty, Note: strings.TrimSpace(u.Note)}
		}
		added := make([]domain.DNXLDetail, len(in.Added))
		for i, a := range in.Added {
			added[i] = domain.DNXLDetail{
				DefectName: strings.TrimSpace(a.DefectName),
				FixedQty:   a.FixedQty,
				FailedQty:  a.FailedQty,
				Note:       strings.TrimSpace(a.Note),
			}
		}
		if err := repo.UpsertDNXLDetails(ctx, tx, d.ID, updates, added); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil, invalid("unknown detail line for request %s", d.ID)
			}
			return "", nil, err
		}
		return workflow.DNXLPendingReview, map[string]any{
			"response": in.Response,
			"images":   datatypes.JSONSlice[string](append([]string{}, in.Images...)),
		}, nil
	})
}

func validateProgress(in *ProgressInput) error {
	in.Response = strings.TrimSpace(in.Response)
	if in.Response == "" {
		return invalid("response is required")
	}
	for i, u := range in.Updates {
		if strings.TrimSpace(u.ID) == "" {
			return invalid("update %d: detail id is required", i+1)
		}
		if u.FixedQty < 0 || u.FailedQty < 0 {
			return invalid("update %d: quantities must not be negative", i+1)
		}
	}
	for i, a := range in.Added {
		if strings.TrimSpace(a.DefectName) == "" {
			return invalid("added line %d: defect name is required", i+1)
		}
		if a.AssignedQty != 0 {
			return invalid("added line %d: ad-hoc lines cannot carry an assigned quantity", i+1)
		}
		if a.FixedQty < 0 || a.FailedQty < 0 {
			return invalid("added line %d: quantities must not be negative", i+1)
		}
	}
	return nil
}

// Review decides on submitted work. Approval closes the request and stores
// the note as the result summary; rejection returns it to the claimant with
// the note as review feedback.
func (s *DNXLService) Review(ctx context.Context, actor Actor, id, decision, note string) (*domain.DNXL, error) {
	note = strings.TrimSpace(note)
	dec, err := workflow.ParseReviewDecision(decision)
	if err != nil {
		err = invalid("%v", err)
	}
	if err == nil {
		err = actor.validate()
	}
	if err == nil {
		err = requireQC(actor, "review")
	}
	if err == nil && dec == workflow.ReviewReject && note == "" {
		err = invalid("a note is required when returning work")
	}
	if err != nil {
		s.record("review", err)
		return nil, err
	}

	return s.apply(ctx, actor, strings.TrimSpace(id), "review", func(_ *gorm.DB, cur workflow.DNXLStatus, _ *domain.DNXL) (workflow.DNXLStatus, map[string]any, error) {
		if !cur.CanReview() {
			return "", nil, stale("request is %s, not %s", cur, workflow.DNXLPendingReview)
		}
		next := workflow.AfterReview(dec)
		if next == workflow.DNXLDone {
			now := s.now()
			return next, map[string]any{
				"result_summary": note,
				"completed_by":   actor.Name,
				"completed_at":   &now,
			}, nil
		}
		return next, map[string]any{"review_note": note}, nil
	})
}

// ForceComplete closes any open request directly, bypassing claim, submit
// and review. It records an out-of-band resolution and is reserved for the
// reviewing role.
func (s *DNXLService) ForceComplete(ctx context.Context, actor Actor, id, note string) (*domain.DNXL, error) {
	note = strings.TrimSpace(note)
	err := actor.validate()
	if err == nil {
		err = requireQC(actor, "force-complete")
	}
	if err == nil && note == "" {
		err = invalid("a note is required to force-complete")
	}
	if err != nil {
		s.record("force_complete", err)
		return nil, err
	}

	return s.apply(ctx, actor, strings.TrimSpace(id), "force_complete", func(_ *gorm.DB, cur workflow.DNXLStatus, _ *domain.DNXL) (workflow.DNXLStatus, map[string]any, error) {
		if !cur.CanForceComplete() {
			return "", nil, stale("request is already %s", cur)
		}
		now := s.now()
		return workflow.DNXLDone, map[string]any{
			"result_summary": note,
			"completed_by":   actor.Name,
			"completed_at":   &now,
			"forced":         true,
		}, nil
	})
}
