package services

import (
	"time"

	"github.com/tbourn/go-ncr-backend/internal/domain"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// Defect is one defect line of a ticket.
type Defect struct {
	Line     int    `json:"line"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Quantity int    `json:"quantity"`
	Severity string `json:"severity"`
}

// AQLResult is the sampling verdict captured when the ticket was created.
type AQLResult struct {
	Code       string `json:"code,omitempty"`
	SampleSize int    `json:"sample_size,omitempty"`
	AcMajor    int    `json:"ac_major"`
	AcMinor    int    `json:"ac_minor"`
	TotalMajor int    `json:"total_major"`
	TotalMinor int    `json:"total_minor"`
	Result     string `json:"result"`
}

// Approval is the decision note left by one approver role.
type Approval struct {
	Role string `json:"role"`
	By   string `json:"by"`
	Note string `json:"note,omitempty"`
}

// CorrectiveAction is the side branch an approver delegated to another role.
type CorrectiveAction struct {
	Status       string     `json:"status"`
	AssignedBy   string     `json:"assigned_by"`
	AssignerName string     `json:"assigner_name"`
	AssignedTo   string     `json:"assigned_to"`
	AssignedDept string     `json:"assigned_department,omitempty"`
	Message      string     `json:"message"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Response     string     `json:"response,omitempty"`
	ReturnNote   string     `json:"return_note,omitempty"`
}

// Ticket is the read model of an NCR assembled from its rows.
type Ticket struct {
	TicketNo         string            `json:"ticket_no"`
	Department       string            `json:"department,omitempty"`
	Status           string            `json:"status"`
	CreatedBy        string            `json:"created_by"`
	Classification   string            `json:"classification,omitempty"`
	LotSize          int               `json:"lot_size"`
	InspectedQty     int               `json:"inspected_qty"`
	Description      string            `json:"description,omitempty"`
	Images           []string          `json:"images"`
	Defects          []Defect          `json:"defects"`
	AQL              *AQLResult        `json:"aql,omitempty"`
	Approvals        []Approval        `json:"approvals,omitempty"`
	RejectReason     string            `json:"reject_reason,omitempty"`
	CancelReason     string            `json:"cancel_reason,omitempty"`
	CorrectiveAction *CorrectiveAction `json:"corrective_action,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// roleColumns maps an approver role to its note and approver-name columns.
var roleColumns = map[workflow.Role][2]string{
	workflow.RoleShiftLead: {"solution_shift_lead", "shift_lead_by"},
	workflow.RoleDeptHead:  {"solution_dept_head", "dept_head_by"},
	workflow.RoleQCManager: {"solution_qc_manager", "qc_manager_by"},
	workflow.RoleDirector:  {"solution_director", "director_by"},
	workflow.RoleBoard:     {"solution_board", "board_by"},
}

// buildTicket assembles the read model. rows must be non-empty and belong to
// one ticket; header fields come from the first row.
func buildTicket(rows []domain.NCRRow, cat *workflow.Catalog) Ticket {
	h := rows[0]
	t := Ticket{
		TicketNo:       h.TicketNo,
		Status:         h.Status,
		CreatedBy:      h.CreatedBy,
		Classification: h.Classification,
		LotSize:        h.LotSize,
		InspectedQty:   h.InspectedQty,
		Description:    h.Description,
		Images:         []string(h.Images),
		RejectReason:   h.RejectReason,
		CancelReason:   h.CancelReason,
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.UpdatedAt,
	}
	if t.Images == nil {
		t.Images = []string{}
	}
	if cat != nil {
		if dept, err := cat.DeriveDepartment(h.TicketNo); err == nil {
			t.Department = dept
		}
	}

	t.Defects = make([]Defect, 0, len(rows))
	for _, r := range rows {
		if r.UpdatedAt.After(t.UpdatedAt) {
			t.UpdatedAt = r.UpdatedAt
		}
		t.Defects = append(t.Defects, Defect{
			Line:     r.LineNo,
			Name:     r.DefectName,
			Location: r.Location,
			Quantity: r.Quantity,
			Severity: r.Severity,
		})
	}

	if h.AQLResult != "" {
		t.AQL = &AQLResult{
			Code:       h.AQLCode,
			SampleSize: h.AQLSampleSize,
			AcMajor:    h.AQLAcMajor,
			AcMinor:    h.AQLAcMinor,
			TotalMajor: h.TotalMajor,
			TotalMinor: h.TotalMinor,
			Result:     h.AQLResult,
		}
	}

	for _, a := range []struct {
		role     workflow.Role
		by, note string
	}{
		{workflow.RoleShiftLead, h.ShiftLeadBy, h.SolutionShiftLead},
		{workflow.RoleDeptHead, h.DeptHeadBy, h.SolutionDeptHead},
		{workflow.RoleQCManager, h.QCManagerBy, h.SolutionQCManager},
		{workflow.RoleDirector, h.DirectorBy, h.SolutionDirector},
		{workflow.RoleBoard, h.BoardBy, h.SolutionBoard},
	} {
		if a.by == "" && a.note == "" {
			continue
		}
		t.Approvals = append(t.Approvals, Approval{Role: string(a.role), By: a.by, Note: a.note})
	}

	if h.KPStatus != "" {
		t.CorrectiveAction = &CorrectiveAction{
			Status:       h.KPStatus,
			AssignedBy:   h.KPAssignedBy,
			AssignerName: h.KPAssignerName,
			AssignedTo:   h.KPAssignedTo,
			AssignedDept: h.KPAssignedDept,
			Message:      h.KPMessage,
			Deadline:     h.KPDeadline,
			Response:     h.KPResponse,
			ReturnNote:   h.KPReturnNote,
		}
	}
	return t
}
