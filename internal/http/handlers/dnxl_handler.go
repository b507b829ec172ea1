// DNXL HTTP handlers.
//
// Remediation requests (DNXL) raised against a ticket:
//   - POST /tickets/{id}/dnxl        (create, QC only)
//   - GET  /tickets/{id}/dnxl        (list for a ticket)
//   - GET  /dnxl/{id}                (read)
//   - POST /dnxl/{id}/claim          (take the work)
//   - POST /dnxl/{id}/progress       (claimant reports)
//   - POST /dnxl/{id}/review         (QC approves or returns)
//   - POST /dnxl/{id}/force-complete (QC closes regardless)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ncr-backend/internal/domain"
	"github.com/tbourn/go-ncr-backend/internal/services"
)

// ListDNXLResponse lists the remediation requests of one ticket.
type ListDNXLResponse struct {
	DNXL []domain.DNXL `json:"dnxl"`
}

// ReviewRequest is the QC decision on submitted work.
type ReviewRequest struct {
	Decision string `json:"decision" example:"approve" enums:"approve,reject"`
	Note     string `json:"note" example:"Re-inspected 20 pcs, all good"`
}

// dnxlAction binds the payload, resolves the caller and runs act.
func dnxlAction[T any](c *gin.Context, status int, act func(a services.Actor, id string, body T) (*domain.DNXL, error)) {
	a, found := caller(c)
	if !found {
		return
	}
	var body T
	if !bindJSON(c, &body) {
		return
	}
	d, err := act(a, c.Param("id"), body)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, status, d)
}

// CreateDNXL godoc
// @ID          createDNXL
// @Summary     Raise a remediation request
// @Tags        DNXL
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Ticket number"  example(FI-01-001)
// @Param       body  body  services.CreateDNXLInput  true  "Scope, instruction and lines"
// @Success     201  {object}  domain.DNXL
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Not allowed"
// @Router      /tickets/{id}/dnxl [post]
func (h *Handlers) CreateDNXL(c *gin.Context) {
	dnxlAction(c, http.StatusCreated, func(a services.Actor, no string, in services.CreateDNXLInput) (*domain.DNXL, error) {
		return h.dnxl.Create(c.Request.Context(), a, no, in)
	})
}

// ListDNXL godoc
// @ID          listDNXL
// @Summary     Remediation requests of a ticket
// @Tags        DNXL
// @Produce     json
// @Param       id  path  string  true  "Ticket number"  example(FI-01-001)
// @Success     200  {object}  handlers.ListDNXLResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Store failure"
// @Router      /tickets/{id}/dnxl [get]
func (h *Handlers) ListDNXL(c *gin.Context) {
	items, err := h.dnxl.ListByNCR(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.DNXL{}
	}
	ok(c, http.StatusOK, ListDNXLResponse{DNXL: items})
}

// GetDNXL godoc
// @ID          getDNXL
// @Summary     Get a remediation request
// @Tags        DNXL
// @Produce     json
// @Param       id  path  string  true  "DNXL id"  format(uuid)
// @Success     200  {object}  domain.DNXL
// @Failure     404  {object}  handlers.ErrorResponse  "DNXL not found"
// @Router      /dnxl/{id} [get]
func (h *Handlers) GetDNXL(c *gin.Context) {
	d, err := h.dnxl.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// ClaimDNXL godoc
// @ID          claimDNXL
// @Summary     Claim a remediation request
// @Tags        DNXL
// @Produce     json
// @Param       id  path  string  true  "DNXL id"  format(uuid)
// @Success     200  {object}  domain.DNXL
// @Failure     404  {object}  handlers.ErrorResponse  "DNXL not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already claimed"
// @Router      /dnxl/{id}/claim [post]
func (h *Handlers) ClaimDNXL(c *gin.Context) {
	dnxlAction(c, http.StatusOK, func(a services.Actor, id string, _ struct{}) (*domain.DNXL, error) {
		return h.dnxl.Claim(c.Request.Context(), a, id)
	})
}

// SubmitDNXLProgress godoc
// @ID          submitDNXLProgress
// @Summary     Report remediation progress
// @Description Only the claimant may report. Fixed plus failed may not exceed the assigned quantity of a line.
// @Tags        DNXL
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "DNXL id"  format(uuid)
// @Param       body  body  services.ProgressInput  true  "Line updates, added lines and response"
// @Success     200  {object}  domain.DNXL
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Not the claimant or wrong state"
// @Router      /dnxl/{id}/progress [post]
func (h *Handlers) SubmitDNXLProgress(c *gin.Context) {
	dnxlAction(c, http.StatusOK, func(a services.Actor, id string, in services.ProgressInput) (*domain.DNXL, error) {
		return h.dnxl.SubmitProgress(c.Request.Context(), a, id, in)
	})
}

// ReviewDNXL godoc
// @ID          reviewDNXL
// @Summary     Review submitted remediation work
// @Tags        DNXL
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "DNXL id"  format(uuid)
// @Param       body  body  handlers.ReviewRequest  true  "Decision and note"
// @Success     200  {object}  domain.DNXL
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Not reviewable"
// @Router      /dnxl/{id}/review [post]
func (h *Handlers) ReviewDNXL(c *gin.Context) {
	dnxlAction(c, http.StatusOK, func(a services.Actor, id string, req ReviewRequest) (*domain.DNXL, error) {
		return h.dnxl.Review(c.Request.Context(), a, id, req.Decision, req.Note)
	})
}

// ForceCompleteDNXL godoc
// @ID          forceCompleteDNXL
// @Summary     Close a remediation request regardless of progress
// @Tags        DNXL
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "DNXL id"  format(uuid)
// @Param       body  body  handlers.NoteRequest  true  "Note"
// @Success     200  {object}  domain.DNXL
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Already done"
// @Router      /dnxl/{id}/force-complete [post]
func (h *Handlers) ForceCompleteDNXL(c *gin.Context) {
	dnxlAction(c, http.StatusOK, func(a services.Actor, id string, req NoteRequest) (*domain.DNXL, error) {
		return h.dnxl.ForceComplete(c.Request.Context(), a, id, req.Note)
	})
}
