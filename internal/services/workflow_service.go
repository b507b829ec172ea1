// Package services – WorkflowService
//
// This file implements the NCR approval engine: approve, reject, cancel and
// the corrective-action side branch (assign, submit, accept, return).
//
// Every operation follows the same sequence inside one transaction:
//  1. re-read the persisted status (never the cache),
//  2. check the acting role against it,
//  3. compute the target status and field updates,
//  4. write every row of the ticket, conditional on the status read in 1,
//  5. append an audit event.
//
// After commit the read cache is invalidated and a status-change event is
// published. A second concurrent attempt on the same status finds the status
// moved on and fails with ErrStaleOrUnauthorized without mutating anything.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/cache"
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

// Corrective-action sub-states recorded in kp_status.
const (
	kpAssigned  = "assigned"
	kpSubmitted = "submitted"
	kpReturned  = "returned"
	kpAccepted  = "accepted"
	kpRecalled  = "recalled"
)

// WorkflowService moves tickets through the approval chain.
type WorkflowService struct {
	DB      *gorm.DB
	Catalog *workflow.Catalog
	Cache   *cache.TicketCache
	Events  events.Publisher
	Now     func() time.Time
}

// AssignInput describes a corrective action delegated to another role.
// Department may stand in for AssignTo: the fix then goes to that
// department's head, or its shift lead when it has no head.
type AssignInput struct {
	AssignTo   string     `json:"assign_to,omitempty"`
	Department string     `json:"department,omitempty" example:"MAY"`
	Message    string     `json:"message"`
	Deadline   *time.Time `json:"deadline,omitempty"`
}

// resolveAssignee returns the role the corrective action goes to and the
// department code it was addressed to, if any.
func (s *WorkflowService) resolveAssignee(in AssignInput) (workflow.Role, string, error) {
	var dept string
	var byDept workflow.Role
	if strings.TrimSpace(in.Department) != "" {
		p, err := s.Catalog.Profile(in.Department)
		if err != nil {
			return "", "", err
		}
		dept, byDept = p.Code(), workflow.RoleShiftLead
		if p.HasDeptHead() {
			byDept = workflow.RoleDeptHead
		}
	}
	if strings.TrimSpace(in.AssignTo) == "" && dept != "" {
		return byDept, dept, nil
	}
	r, err := workflow.ParseRole(in.AssignTo)
	return r, dept, err
}

// decision is what an operation wants to write once authorized.
type decision struct {
	to      workflow.Status
	updates map[string]any
	note    string
}

// decideFunc authorizes the actor against the persisted state and returns
// the transition to apply.
type decideFunc func(cur workflow.Status, head domain.NCRRow, p workflow.Profile) (decision, error)

func (s *WorkflowService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// apply runs one transition. See the file comment for the sequence.
func (s *WorkflowService) apply(ctx context.Context, actor Actor, ticketNo, action string, decide decideFunc) (*Ticket, error) {
	tr := otel.Tracer("services/WorkflowService")
	ctx, span := tr.Start(ctx, action,
		trace.WithAttributes(
			attribute.String("ticket.no", ticketNo),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	var from, to workflow.Status
	err := func() error {
		if err := actor.validate(); err != nil {
			return err
		}
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			raw, err := repo.ReadStatus(ctx, tx, ticketNo)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrTicketNotFound, ticketNo)
				}
				return err
			}
			cur, err := workflow.ParseStatus(raw)
			if err != nil {
				return stale("ticket %s is in unknown status %q", ticketNo, raw)
			}
			rows, err := repo.ReadByTicketNo(ctx, tx, ticketNo)
			if err != nil {
				return err
			}
			profile, err := s.Catalog.ProfileForTicket(ticketNo)
			if err != nil {
				return invalid("%v", err)
			}

			d, err := decide(cur, rows[0], profile)
			if err != nil {
				return err
			}

			updates := make(map[string]any, len(d.updates)+1)
			for k, v := range d.updates {
				updates[k] = v
			}
			updates["status"] = string(d.to)
			if err := repo.BatchWrite(ctx, tx, ticketNo, raw, updates); err != nil {
				if errors.Is(err, repo.ErrStatusChanged) {
					return stale("ticket %s is no longer %s", ticketNo, raw)
				}
				return err
			}
			from, to = cur, d.to
			return repo.AppendEvent(ctx, tx, &domain.TicketEvent{
				TicketNo:   ticketNo,
				Action:     action,
				Actor:      actor.Name,
				Role:       string(actor.Role),
				FromStatus: string(cur),
				ToStatus:   string(d.to),
				Note:       d.note,
			})
		})
	}()
	err = storeErr(err)
	observability.RecordTransition(string(events.KindTicket), action, outcome(err))

	log := zerolog.Ctx(ctx)
	if err != nil {
		if errors.Is(err, ErrStaleOrUnauthorized) {
			log.Warn().
				Str("ticket", ticketNo).
				Str("action", action).
				Str("actor", actor.Name).
				Str("role", string(actor.Role)).
				Err(err).
				Msg("transition refused")
		}
		return nil, err
	}

	afterCommit(ctx, s.Cache, s.Events, events.StatusChanged{
		Kind: events.KindTicket, ID: ticketNo, Action: action,
		From: string(from), To: string(to),
		Actor: actor.Name, Role: string(actor.Role), At: s.now(),
	})
	log.Info().
		Str("ticket", ticketNo).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor.Name).
		Str("role", string(actor.Role)).
		Msg("ticket transitioned")

	return loadTicket(ctx, s.DB, s.Catalog, ticketNo)
}

func normTicketNo(no string) string { return strings.ToUpper(strings.TrimSpace(no)) }

// Approve advances a ticket. An empty target takes the default successor;
// otherwise target must be the successor or, at the QC-manager step, one of
// the manual routing overrides. Submitting a draft is open to every role.
func (s *WorkflowService) Approve(ctx context.Context, actor Actor, ticketNo, target, note string) (*Ticket, error) {
	note = strings.TrimSpace(note)
	return s.apply(ctx, actor, normTicketNo(ticketNo), "approve", func(cur workflow.Status, _ domain.NCRRow, p workflow.Profile) (decision, error) {
		if cur != workflow.StatusDraft && !workflow.CanAct(actor.Role, cur) {
			return decision{}, stale("%s cannot approve a ticket in %s", actor.Role, cur)
		}

		var to workflow.Status
		if strings.TrimSpace(target) == "" {
			next, ok := workflow.NextStatus(cur, p)
			if !ok {
				return decision{}, stale("no successor for %s", cur)
			}
			to = next
		} else {
			t, err := workflow.ParseStatus(target)
			if err != nil {
				return decision{}, invalid("%v", err)
			}
			if !workflow.IsAllowedTarget(cur, t, p) {
				return decision{}, invalid("%s is not a valid next status after %s", t, cur)
			}
			to = t
		}

		updates := map[string]any{}
		if cols, ok := roleColumns[actor.Role]; ok && cur != workflow.StatusDraft {
			if note != "" {
				updates[cols[0]] = note
			}
			updates[cols[1]] = actor.Name
		}
		if _, ok := cur.ConfirmRole(); ok {
			updates["kp_status"] = kpAccepted
		}
		return decision{to: to, updates: updates, note: note}, nil
	})
}

// Reject sends a ticket back along the escalation table. When seen is not
// empty it must equal the persisted status. The reason is stored with the
// actor's attribution; earlier approval notes are kept.
func (s *WorkflowService) Reject(ctx context.Context, actor Actor, ticketNo, seen, reason string) (*Ticket, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		observability.RecordTransition(string(events.KindTicket), "reject", outcome(ErrValidation))
		return nil, invalid("rejection reason is required")
	}
	return s.apply(ctx, actor, normTicketNo(ticketNo), "reject", func(cur workflow.Status, _ domain.NCRRow, _ workflow.Profile) (decision, error) {
		if seen = strings.TrimSpace(seen); seen != "" && seen != string(cur) {
			return decision{}, stale("ticket is %s, not %s", cur, seen)
		}
		if actor.Role == workflow.RoleUser || !workflow.CanAct(actor.Role, cur) {
			return decision{}, stale("%s cannot reject a ticket in %s", actor.Role, cur)
		}
		return decision{
			to:      workflow.Escalation(cur),
			updates: map[string]any{"reject_reason": actor.attribute(reason)},
			note:    reason,
		}, nil
	})
}

// Cancel closes a draft for good. Only the creator role or the QC manager may
// cancel, and a reason is required.
func (s *WorkflowService) Cancel(ctx context.Context, actor Actor, ticketNo, reason string) (*Ticket, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		observability.RecordTransition(string(events.KindTicket), "cancel", outcome(ErrValidation))
		return nil, invalid("cancellation reason is required")
	}
	return s.apply(ctx, actor, normTicketNo(ticketNo), "cancel", func(cur workflow.Status, _ domain.NCRRow, _ workflow.Profile) (decision, error) {
		if actor.Role != workflow.RoleUser && actor.Role != workflow.RoleQCManager {
			return decision{}, stale("%s cannot cancel tickets", actor.Role)
		}
		if cur != workflow.StatusDraft {
			return decision{}, stale("only draft tickets can be cancelled, ticket is %s", cur)
		}
		return decision{
			to:      workflow.StatusCancelled,
			updates: map[string]any{"cancel_reason": actor.attribute(reason)},
			note:    reason,
		}, nil
	})
}

// AssignCorrectiveAction delegates a fix to another approver role while the
// ticket waits at the actor's own step.
func (s *WorkflowService) AssignCorrectiveAction(ctx context.Context, actor Actor, ticketNo string, in AssignInput) (*Ticket, error) {
	msg := strings.TrimSpace(in.Message)
	assignee, dept, err := s.resolveAssignee(in)
	switch {
	case msg == "":
		err = invalid("corrective action message is required")
	case err != nil:
		err = invalid("%v", err)
	case !assignee.Approver():
		err = invalid("%s cannot carry out corrective actions", assignee)
	case assignee == actor.Role:
		err = invalid("corrective action must be assigned to another role")
	}
	if err != nil {
		observability.RecordTransition(string(events.KindTicket), "assign_kp", outcome(err))
		return nil, err
	}

	return s.apply(ctx, actor, normTicketNo(ticketNo), "assign_kp", func(cur workflow.Status, _ domain.NCRRow, _ workflow.Profile) (decision, error) {
		pending, ok := actor.Role.PendingStatus()
		if !ok || cur != pending {
			return decision{}, stale("%s cannot assign corrective action on a ticket in %s", actor.Role, cur)
		}
		return decision{
			to: workflow.CorrectiveStatus(assignee),
			updates: map[string]any{
				"kp_status":        kpAssigned,
				"kp_assigned_by":   string(actor.Role),
				"kp_assigner_name": actor.Name,
				"kp_assigned_to":   string(assignee),
				"kp_assigned_dept": dept,
				"kp_message":       msg,
				"kp_deadline":      in.Deadline,
				"kp_response":      "",
				"kp_return_note":   "",
			},
			note: msg,
		}, nil
	})
}

// SubmitCorrectiveAction records the assignee's response and hands the
// ticket back to the assigner for confirmation.
func (s *WorkflowService) SubmitCorrectiveAction(ctx context.Context, actor Actor, ticketNo, response string) (*Ticket, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		observability.RecordTransition(string(events.KindTicket), "submit_kp", outcome(ErrValidation))
		return nil, invalid("corrective action response is required")
	}
	return s.apply(ctx, actor, normTicketNo(ticketNo), "submit_kp", func(cur workflow.Status, head domain.NCRRow, _ workflow.Profile) (decision, error) {
		assignee, ok := cur.CorrectiveRole()
		if !ok || assignee != actor.Role {
			return decision{}, stale("%s cannot submit corrective action on a ticket in %s", actor.Role, cur)
		}
		assigner, err := workflow.ParseRole(head.KPAssignedBy)
		if err != nil || !assigner.Approver() {
			return decision{}, fmt.Errorf("%w: ticket has no valid corrective-action assigner", ErrStoreFailure)
		}
		return decision{
			to: workflow.ConfirmStatus(assigner),
			updates: map[string]any{
				"kp_status":   kpSubmitted,
				"kp_response": response,
			},
			note: response,
		}, nil
	})
}

// AcceptCorrectiveAction confirms the submitted fix and resumes the approval
// chain at the assigner's step.
func (s *WorkflowService) AcceptCorrectiveAction(ctx context.Context, actor Actor, ticketNo, note string) (*Ticket, error) {
	note = strings.TrimSpace(note)
	return s.apply(ctx, actor, normTicketNo(ticketNo), "accept_kp", func(cur workflow.Status, _ domain.NCRRow, _ workflow.Profile) (decision, error) {
		assigner, ok := cur.ConfirmRole()
		if !ok || assigner != actor.Role {
			return decision{}, stale("%s cannot accept corrective action on a ticket in %s", actor.Role, cur)
		}
		pending, _ := assigner.PendingStatus()
		return decision{
			to:      pending,
			updates: map[string]any{"kp_status": kpAccepted},
			note:    note,
		}, nil
	})
}

// ReturnCorrectiveAction sends an unsatisfactory fix back to the assignee.
func (s *WorkflowService) ReturnCorrectiveAction(ctx context.Context, actor Actor, ticketNo, note string) (*Ticket, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		observability.RecordTransition(string(events.KindTicket), "return_kp", outcome(ErrValidation))
		return nil, invalid("return note is required")
	}
	return s.apply(ctx, actor, normTicketNo(ticketNo), "return_kp", func(cur workflow.Status, head domain.NCRRow, _ workflow.Profile) (decision, error) {
		assigner, ok := cur.ConfirmRole()
		if !ok || assigner != actor.Role {
			return decision{}, stale("%s cannot return corrective action on a ticket in %s", actor.Role, cur)
		}
		assignee, err := workflow.ParseRole(head.KPAssignedTo)
		if err != nil || !assignee.Approver() {
			return decision{}, fmt.Errorf("%w: ticket has no valid corrective-action assignee", ErrStoreFailure)
		}
		return decision{
			to: workflow.CorrectiveStatus(assignee),
			updates: map[string]any{
				"kp_status":      kpReturned,
				"kp_return_note": note,
			},
			note: note,
		}, nil
	})
}

// RecallCorrectiveAction withdraws a corrective action the assignee has not
// answered yet. The assigning role or the QC manager may recall it; the
// ticket goes back to the assigner's pending step.
func (s *WorkflowService) RecallCorrectiveAction(ctx context.Context, actor Actor, ticketNo, reason string) (*Ticket, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		observability.RecordTransition(string(events.KindTicket), "recall_kp", outcome(ErrValidation))
		return nil, invalid("recall reason is required")
	}
	return s.apply(ctx, actor, normTicketNo(ticketNo), "recall_kp", func(cur workflow.Status, head domain.NCRRow, _ workflow.Profile) (decision, error) {
		if _, ok := cur.CorrectiveRole(); !ok {
			return decision{}, stale("no open corrective action on a ticket in %s", cur)
		}
		assigner, err := workflow.ParseRole(head.KPAssignedBy)
		if err != nil || !assigner.Approver() {
			return decision{}, fmt.Errorf("%w: ticket has no valid corrective-action assigner", ErrStoreFailure)
		}
		if actor.Role != assigner && actor.Role != workflow.RoleQCManager {
			return decision{}, stale("%s cannot recall a corrective action assigned by %s", actor.Role, assigner)
		}
		pending, _ := assigner.PendingStatus()
		return decision{
			to: pending,
			updates: map[string]any{
				"kp_status":      kpRecalled,
				"kp_return_note": actor.attribute(reason),
			},
			note: reason,
		}, nil
	})
}
