// Reference data HTTP handlers: the AQL sampling table, lot evaluation,
// the department catalog and defect name suggestions. None of these write.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-ncr-backend/internal/aql"
	"github.com/tbourn/go-ncr-backend/internal/search"
	"github.com/tbourn/go-ncr-backend/internal/utils"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// AQLTableResponse is the whole sampling table.
type AQLTableResponse struct {
	Standards []aql.Standard `json:"standards"`
}

// EvaluateDefect is one defect line of an evaluation request.
type EvaluateDefect struct {
	Severity string `json:"severity" example:"Nặng"`
	Quantity int    `json:"quantity" example:"2"`
}

// EvaluateRequest asks for the verdict of a lot. Totals may be given directly
// or tallied from defect lines; both are added together.
type EvaluateRequest struct {
	LotSize      int              `json:"lot_size" example:"500"`
	Major        int              `json:"major"`
	Minor        int              `json:"minor"`
	Defects      []EvaluateDefect `json:"defects"`
	CustomLimits *aql.Limits      `json:"custom_limits,omitempty"`
}

// EvaluateResponse is the verdict with the limits that produced it.
type EvaluateResponse struct {
	Verdict aql.Verdict `json:"verdict" example:"Pass"`
	Details aql.Details `json:"details"`
}

// DepartmentsResponse is the active department catalog.
type DepartmentsResponse struct {
	Version     string             `json:"version"`
	Departments []workflow.Profile `json:"departments"`
}

// SuggestResponse lists defect names ranked by similarity.
type SuggestResponse struct {
	Suggestions []search.Result `json:"suggestions"`
}

// AQLStandard godoc
// @ID          aqlStandard
// @Summary     AQL sampling table
// @Description Without lot_size returns every band; with it returns the band the lot falls in.
// @Tags        Reference
// @Produce     json
// @Param       lot_size  query  int  false  "Lot size"  minimum(1)  example(500)
// @Success     200  {object}  handlers.AQLTableResponse
// @Success     200  {object}  aql.Standard
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid lot size"
// @Router      /aql/standard [get]
func (h *Handlers) AQLStandard(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("lot_size"))
	if raw == "" {
		ok(c, http.StatusOK, AQLTableResponse{Standards: aql.Table()})
		return
	}
	std, found := aql.LookupString(raw)
	if !found {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "lot_size must be a positive integer")
		return
	}
	ok(c, http.StatusOK, std)
}

// EvaluateAQL godoc
// @ID          evaluateAQL
// @Summary     Evaluate a lot against the AQL table
// @Tags        Reference
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.EvaluateRequest  true  "Lot size and defect totals"
// @Success     200  {object}  handlers.EvaluateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Router      /aql/evaluate [post]
func (h *Handlers) EvaluateAQL(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Major < 0 || req.Minor < 0 {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "defect totals cannot be negative")
		return
	}
	if l := req.CustomLimits; l != nil && (l.AcMajor < 0 || l.AcMinor < 0) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "custom limits cannot be negative")
		return
	}

	lines := make([]aql.Line, 0, len(req.Defects))
	for i, d := range req.Defects {
		sev, err := aql.ParseSeverity(d.Severity)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeValidation, "defect "+strconv.Itoa(i+1)+": "+err.Error())
			return
		}
		lines = append(lines, aql.Line{Severity: sev, Quantity: d.Quantity})
	}
	major, minor := aql.Tally(lines)

	verdict, details := aql.Evaluate(req.LotSize, req.Major+major, req.Minor+minor, req.CustomLimits)
	ok(c, http.StatusOK, EvaluateResponse{Verdict: verdict, Details: details})
}

// ListDepartments godoc
// @ID          listDepartments
// @Summary     Department catalog
// @Description Department codes with their ticket prefixes and workflow options.
// @Tags        Reference
// @Produce     json
// @Success     200  {object}  handlers.DepartmentsResponse
// @Router      /departments [get]
func (h *Handlers) ListDepartments(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=300")
	ok(c, http.StatusOK, DepartmentsResponse{
		Version:     h.catalog.Version(),
		Departments: h.catalog.Profiles(),
	})
}

// SuggestDefects godoc
// @ID          suggestDefects
// @Summary     Suggest defect names
// @Description Ranks known defect names against a partially typed query, ignoring diacritics.
// @Tags        Reference
// @Produce     json
// @Param       q  query  string  true   "Partial defect name"  example(vet ban)
// @Param       k  query  int     false  "Max suggestions"      minimum(1) maximum(20) default(5)
// @Success     200  {object}  handlers.SuggestResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Store failure"
// @Router      /defects/suggest [get]
func (h *Handlers) SuggestDefects(c *gin.Context) {
	k := utils.BoundedInt(c.Query("k"), 5, 1, 20)
	res, err := h.tickets.SuggestDefects(c.Request.Context(), c.Query("q"), k)
	if err != nil {
		failService(c, err)
		return
	}
	if res == nil {
		res = []search.Result{}
	}
	ok(c, http.StatusOK, SuggestResponse{Suggestions: res})
}
