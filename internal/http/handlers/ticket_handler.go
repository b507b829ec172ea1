// Ticket HTTP handlers.
//
// This file exposes REST endpoints for NCR tickets:
//   - POST   /tickets               (create)
//   - GET    /tickets               (list, paginated, ETag support)
//   - GET    /tickets/{id}          (read)
//   - GET    /tickets/{id}/history  (audit trail)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ncr-backend/internal/domain"
	"github.com/tbourn/go-ncr-backend/internal/search"
	"github.com/tbourn/go-ncr-backend/internal/services"
	"github.com/tbourn/go-ncr-backend/internal/utils"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

//
// Service contracts (context-aware)
//

// TicketService creates and reads tickets.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type TicketService interface {
	Create(ctx context.Context, actor services.Actor, in services.CreateInput) (*services.Ticket, error)
	Get(ctx context.Context, ticketNo string) (*services.Ticket, error)
	List(ctx context.Context, q services.ListQuery) ([]services.Ticket, int64, error)
	// Stats returns the count and latest update of q, for list ETags.
	Stats(ctx context.Context, q services.ListQuery) (int64, *time.Time, error)
	History(ctx context.Context, ticketNo string) ([]domain.TicketEvent, error)
	SuggestDefects(ctx context.Context, query string, k int) ([]search.Result, error)
}

// WorkflowService moves tickets through the approval chain and the
// corrective-action branch. Every operation re-checks the persisted status
// right before writing.
type WorkflowService interface {
	Approve(ctx context.Context, actor services.Actor, ticketNo, target, note string) (*services.Ticket, error)
	Reject(ctx context.Context, actor services.Actor, ticketNo, seen, reason string) (*services.Ticket, error)
	Cancel(ctx context.Context, actor services.Actor, ticketNo, reason string) (*services.Ticket, error)
	AssignCorrectiveAction(ctx context.Context, actor services.Actor, ticketNo string, in services.AssignInput) (*services.Ticket, error)
	SubmitCorrectiveAction(ctx context.Context, actor services.Actor, ticketNo, response string) (*services.Ticket, error)
	AcceptCorrectiveAction(ctx context.Context, actor services.Actor, ticketNo, note string) (*services.Ticket, error)
	ReturnCorrectiveAction(ctx context.Context, actor services.Actor, ticketNo, note string) (*services.Ticket, error)
	RecallCorrectiveAction(ctx context.Context, actor services.Actor, ticketNo, reason string) (*services.Ticket, error)
}

// DNXLService manages remediation requests raised against tickets.
type DNXLService interface {
	Create(ctx context.Context, actor services.Actor, ticketNo string, in services.CreateDNXLInput) (*domain.DNXL, error)
	Get(ctx context.Context, id string) (*domain.DNXL, error)
	ListByNCR(ctx context.Context, ticketNo string) ([]domain.DNXL, error)
	Claim(ctx context.Context, actor services.Actor, id string) (*domain.DNXL, error)
	SubmitProgress(ctx context.Context, actor services.Actor, id string, in services.ProgressInput) (*domain.DNXL, error)
	Review(ctx context.Context, actor services.Actor, id, decision, note string) (*domain.DNXL, error)
	ForceComplete(ctx context.Context, actor services.Actor, id, note string) (*domain.DNXL, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for tickets, workflow actions, DNXL and
// reference data. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	tickets TicketService
	flow    WorkflowService
	dnxl    DNXLService
	catalog *workflow.Catalog
}

// New constructs and returns a Handlers instance bound to the given services.
// A nil catalog falls back to the built-in department list.
func New(tickets TicketService, flow WorkflowService, dnxl DNXLService, catalog *workflow.Catalog) *Handlers {
	if catalog == nil {
		catalog = workflow.DefaultCatalog()
	}
	return &Handlers{tickets: tickets, flow: flow, dnxl: dnxl, catalog: catalog}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListTicketsResponse wraps a page of tickets and pagination information.
type ListTicketsResponse struct {
	Tickets    []services.Ticket `json:"tickets"`
	Pagination Pagination        `json:"pagination"`
}

// HistoryResponse is the audit trail of a ticket, oldest first.
type HistoryResponse struct {
	Events []domain.TicketEvent `json:"events"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.BoundedInt(c.Query("page"), defaultPage, 1, math.MaxInt32)
	pageSize = utils.BoundedInt(c.Query("page_size"), defaultPageSize, 1, maxPageSize)
	return
}

// listQuery reads the ticket filters. status accepts a comma-separated list.
func listQuery(c *gin.Context) services.ListQuery {
	q := services.ListQuery{
		Department: strings.TrimSpace(c.Query("department")),
		CreatedBy:  strings.TrimSpace(c.Query("created_by")),
	}
	for _, s := range strings.Split(c.Query("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			q.Statuses = append(q.Statuses, s)
		}
	}
	q.Page, q.PageSize = clampPagination(c)
	return q
}

// listETag is a weak validator over the filter set, not the page: any write
// that touches a matching ticket changes the count or the latest update.
func listETag(q services.ListQuery, count int64, latest *time.Time) string {
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	filter := strings.ToUpper(q.Department) + "|" + strings.Join(q.Statuses, ",") + "|" + q.CreatedBy
	return fmt.Sprintf(`W/"tickets:%s:%d:%d:%d:%d"`, filter, q.Page, q.PageSize, count, ts)
}

//
// Handlers
//

// CreateTicket godoc
// @ID          createTicket
// @Summary     Create an NCR ticket
// @Description Records a nonconformance with its defect lines. The ticket number is allocated from the department prefix and the current month; non-draft tickets are evaluated against the AQL table.
// @Tags        Tickets
// @Accept      json
// @Produce     json
//
// @Param       X-User-Name      header  string  false "Caller name (header identity mode)"  example(Nguyen Van An)
// @Param       X-User-Role      header  string  false "Caller role"                         example(USER)
// @Param       Idempotency-Key  header  string  false "Replays the first response for retries"
// @Param       body             body    services.CreateInput  true  "Ticket payload"
//
// @Success     201  {object}  services.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Caller identity required"
// @Failure     409  {object}  handlers.ErrorResponse  "Ticket number taken"
// @Failure     503  {object}  handlers.ErrorResponse  "Store failure"
// @Router      /tickets [post]
func (h *Handlers) CreateTicket(c *gin.Context) {
	a, found := caller(c)
	if !found {
		return
	}
	var in services.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if in.Department == "" {
		in.Department = a.Department
	}

	t, err := h.tickets.Create(c.Request.Context(), a, in)
	if err != nil {
		failService(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+t.TicketNo)
	ok(c, http.StatusCreated, t)
}

// ListTickets godoc
// @ID          listTickets
// @Summary     List tickets (paginated)
// @Description Returns a page of tickets, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Tickets
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       department     query   string  false "Department code"                  example(FI)
// @Param       status         query   string  false "Comma-separated statuses"         example(cho_truong_ca,cho_qc_manager)
// @Param       created_by     query   string  false "Creator name"
// @Param       page           query   int     false "Page number"                      minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"                   minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListTicketsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Unknown department or status"
// @Failure     503  {object} handlers.ErrorResponse "Store failure"
// @Router      /tickets [get]
func (h *Handlers) ListTickets(c *gin.Context) {
	ctx := c.Request.Context()
	q := listQuery(c)

	// ETag pre-check (best effort).
	if count, latest, err := h.tickets.Stats(ctx, q); err == nil {
		etag := listETag(q, count, latest)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.tickets.List(ctx, q)
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []services.Ticket{}
	}

	totalPages := utils.PageCount(total, q.PageSize)
	ok(c, http.StatusOK, ListTicketsResponse{
		Tickets: items,
		Pagination: Pagination{
			Page:       q.Page,
			PageSize:   q.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    q.Page < totalPages,
		},
	})
}

// GetTicket godoc
// @ID          getTicket
// @Summary     Get a ticket
// @Tags        Tickets
// @Produce     json
// @Param       id   path  string  true  "Ticket number"  example(FI-01-001)
// @Success     200  {object} services.Ticket
// @Failure     404  {object} handlers.ErrorResponse "Ticket not found"
// @Failure     503  {object} handlers.ErrorResponse "Store failure"
// @Router      /tickets/{id} [get]
func (h *Handlers) GetTicket(c *gin.Context) {
	t, err := h.tickets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// TicketHistory godoc
// @ID          ticketHistory
// @Summary     Ticket audit trail
// @Description Every transition the ticket went through, oldest first.
// @Tags        Tickets
// @Produce     json
// @Param       id   path  string  true  "Ticket number"  example(FI-01-001)
// @Success     200  {object} handlers.HistoryResponse
// @Failure     404  {object} handlers.ErrorResponse "Ticket not found"
// @Router      /tickets/{id}/history [get]
func (h *Handlers) TicketHistory(c *gin.Context) {
	evs, err := h.tickets.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	if evs == nil {
		evs = []domain.TicketEvent{}
	}
	ok(c, http.StatusOK, HistoryResponse{Events: evs})
}
