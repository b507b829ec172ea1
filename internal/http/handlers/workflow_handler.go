// Workflow HTTP handlers.
//
// Approval-chain and corrective-action endpoints. Every action answers with
// the ticket as it is after the write. A 409 stale_or_unauthorized means the
// ticket moved on (or was never the caller's to act on) and the client should
// reload it before trying again.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ncr-backend/internal/services"
)

// ApproveRequest is the JSON payload for approving a ticket.
type ApproveRequest struct {
	// TargetStatus is where the approver sends the ticket. Empty means the
	// next step of the chain.
	TargetStatus string `json:"target_status" example:"cho_qc_manager"`
	Note         string `json:"note" example:"Rework the batch before packing"`
}

// RejectRequest is the JSON payload for rejecting a ticket.
type RejectRequest struct {
	// SeenStatus is the status the caller was looking at. The rejection is
	// refused if the ticket moved on since.
	SeenStatus string `json:"seen_status" example:"cho_truong_ca"`
	Reason     string `json:"reason" example:"Photos do not match the lot"`
}

// CancelRequest is the JSON payload for cancelling a ticket.
type CancelRequest struct {
	Reason string `json:"reason" example:"Duplicate of FI-01-004"`
}

// SubmitCorrectiveRequest carries the assignee's response.
type SubmitCorrectiveRequest struct {
	Response string `json:"response" example:"Replaced the worn die"`
}

// RecallRequest says why an open corrective action is withdrawn.
type RecallRequest struct {
	Reason string `json:"reason" example:"Assigned to the wrong line"`
}

// NoteRequest is the optional note for accept/return decisions.
type NoteRequest struct {
	Note string `json:"note" example:"Confirmed on line 3"`
}

// ticketAction binds the payload, resolves the caller and runs act.
func ticketAction[T any](c *gin.Context, act func(a services.Actor, no string, body T) (*services.Ticket, error)) {
	a, found := caller(c)
	if !found {
		return
	}
	var body T
	if !bindJSON(c, &body) {
		return
	}
	t, err := act(a, c.Param("id"), body)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// ApproveTicket godoc
// @ID          approveTicket
// @Summary     Approve a ticket
// @Description Moves the ticket forward. The caller's role must own the current status; the target must be allowed from it.
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id               path    string  true  "Ticket number"  example(FI-01-001)
// @Param       Idempotency-Key  header  string  false "Replays the first response for retries"
// @Param       body             body    handlers.ApproveRequest  false  "Target and note"
// @Success     200  {object}  services.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Caller identity required"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/approve [post]
func (h *Handlers) ApproveTicket(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req ApproveRequest) (*services.Ticket, error) {
		return h.flow.Approve(c.Request.Context(), a, no, req.TargetStatus, req.Note)
	})
}

// RejectTicket godoc
// @ID          rejectTicket
// @Summary     Reject a ticket
// @Description Sends the ticket back one escalation step. A reason is required.
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id               path    string  true  "Ticket number"  example(FI-01-001)
// @Param       Idempotency-Key  header  string  false "Replays the first response for retries"
// @Param       body             body    handlers.RejectRequest  true  "Seen status and reason"
// @Success     200  {object}  services.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/reject [post]
func (h *Handlers) RejectTicket(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req RejectRequest) (*services.Ticket, error) {
		return h.flow.Reject(c.Request.Context(), a, no, req.SeenStatus, req.Reason)
	})
}

// CancelTicket godoc
// @ID          cancelTicket
// @Summary     Cancel a ticket
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Ticket number"  example(FI-01-001)
// @Param       body  body  handlers.CancelRequest  true  "Reason"
// @Success     200  {object}  services.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/cancel [post]
func (h *Handlers) CancelTicket(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req CancelRequest) (*services.Ticket, error) {
		return h.flow.Cancel(c.Request.Context(), a, no, req.Reason)
	})
}

// AssignCorrectiveAction godoc
// @ID          assignCorrectiveAction
// @Summary     Delegate a corrective action
// @Description The approver owning the current step hands the ticket to another role, which must respond before the approver decides.
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Ticket number"  example(FI-01-001)
// @Param       body  body  services.AssignInput  true  "Assignee, message and deadline"
// @Success     200  {object}  services.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/corrective-action [post]
func (h *Handlers) AssignCorrectiveAction(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req services.AssignInput) (*services.Ticket, error) {
		return h.flow.AssignCorrectiveAction(c.Request.Context(), a, no, req)
	})
}

// SubmitCorrectiveAction godoc
// @ID          submitCorrectiveAction
// @Summary     Respond to a corrective action
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Ticket number"  example(FI-01-001)
// @Param       body  body  handlers.SubmitCorrectiveRequest  true  "Response"
// @Success     200  {object}  services.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/corrective-action/submit [post]
func (h *Handlers) SubmitCorrectiveAction(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req SubmitCorrectiveRequest) (*services.Ticket, error) {
		return h.flow.SubmitCorrectiveAction(c.Request.Context(), a, no, req.Response)
	})
}

// AcceptCorrectiveAction godoc
// @ID          acceptCorrectiveAction
// @Summary     Accept a corrective action response
// @Description The assigning approver accepts the response; the ticket returns to the approver's pending step.
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Ticket number"  example(FI-01-001)
// @Param       body  body  handlers.NoteRequest  false  "Note"
// @Success     200  {object}  services.Ticket
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/corrective-action/accept [post]
func (h *Handlers) AcceptCorrectiveAction(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req NoteRequest) (*services.Ticket, error) {
		return h.flow.AcceptCorrectiveAction(c.Request.Context(), a, no, req.Note)
	})
}

// ReturnCorrectiveAction godoc
// @ID          returnCorrectiveAction
// @Summary     Return a corrective action response
// @Description The assigning approver sends the response back to the assignee.
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Ticket number"  example(FI-01-001)
// @Param       body  body  handlers.NoteRequest  false  "Note"
// @Success     200  {object}  services.Ticket
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/corrective-action/return [post]
func (h *Handlers) ReturnCorrectiveAction(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req NoteRequest) (*services.Ticket, error) {
		return h.flow.ReturnCorrectiveAction(c.Request.Context(), a, no, req.Note)
	})
}

// RecallCorrectiveAction godoc
// @ID          recallCorrectiveAction
// @Summary     Recall an open corrective action
// @Description The assigning role or the QC manager withdraws the request before the assignee answers; the ticket returns to the assigner's pending step.
// @Tags        Workflow
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Ticket number"  example(FI-01-001)
// @Param       body  body  handlers.RecallRequest  true  "Reason"
// @Success     200  {object}  services.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Stale or unauthorized"
// @Router      /tickets/{id}/corrective-action/recall [post]
func (h *Handlers) RecallCorrectiveAction(c *gin.Context) {
	ticketAction(c, func(a services.Actor, no string, req RecallRequest) (*services.Ticket, error) {
		return h.flow.RecallCorrectiveAction(c.Request.Context(), a, no, req.Reason)
	})
}
