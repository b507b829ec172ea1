// Package domain defines the persistence models for NCR tickets, their audit
// history, ticket-number sequences and DNXL remediation requests. These
// types are mapped with GORM and form the core data layer of the service.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// NCRRow is one defect line of a non-conformance report. A ticket is the set
// of rows sharing TicketNo; header and workflow columns are duplicated on
// every row and must stay identical across them.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - TicketNo: human-readable ticket number, e.g. "FI-01-01" (indexed).
//   - LineNo: 1-based position of the defect line inside the ticket.
//   - Status: workflow status (draft, cho_truong_ca, ... hoan_thanh, da_huy,
//     khac_phuc_*, xac_nhan_kp_*).
//   - Solution*/ *By: per-role decision notes and the approver's name.
//   - RejectReason: last rejection, attributed "[name (ROLE)] reason".
//   - KP*: corrective-action sub-fields.
//   - AQL*: sampling result captured at creation time.
type NCRRow struct {
	ID       string `json:"id"        gorm:"type:char(36);primaryKey"`
	TicketNo string `json:"ticket_no" gorm:"type:varchar(64);not null;index:idx_ncr_ticket,priority:1"`
	LineNo   int    `json:"line_no"   gorm:"not null;index:idx_ncr_ticket,priority:2"`

	CreatedBy      string                      `json:"created_by"      gorm:"type:varchar(128);not null"`
	Classification string                      `json:"classification"  gorm:"type:varchar(128)"`
	LotSize        int                         `json:"lot_size"        gorm:"not null;default:0"`
	InspectedQty   int                         `json:"inspected_qty"   gorm:"not null;default:0"`
	Description    string                      `json:"description"     gorm:"type:text"`
	Images         datatypes.JSONSlice[string] `json:"images"`

	DefectName string `json:"defect_name" gorm:"type:varchar(255);not null"`
	Location   string `json:"location"    gorm:"type:varchar(255)"`
	Quantity   int    `json:"quantity"    gorm:"not null;default:0"`
	Severity   string `json:"severity"    gorm:"type:varchar(32);not null"`

	Status string `json:"status" gorm:"type:varchar(48);not null;index"`

	AQLCode       string `json:"aql_code,omitempty"`
	AQLSampleSize int    `json:"aql_sample_size,omitempty"`
	AQLAcMajor    int    `json:"aql_ac_major"`
	AQLAcMinor    int    `json:"aql_ac_minor"`
	TotalMajor    int    `json:"total_major"`
	TotalMinor    int    `json:"total_minor"`
	AQLResult     string `json:"aql_result,omitempty" gorm:"type:varchar(8)"`

	SolutionShiftLead string `json:"solution_truong_ca,omitempty"  gorm:"type:text"`
	ShiftLeadBy       string `json:"truong_ca_by,omitempty"        gorm:"type:varchar(128)"`
	SolutionDeptHead  string `json:"solution_truong_bp,omitempty"  gorm:"type:text"`
	DeptHeadBy        string `json:"truong_bp_by,omitempty"        gorm:"type:varchar(128)"`
	SolutionQCManager string `json:"solution_qc_manager,omitempty" gorm:"type:text"`
	QCManagerBy       string `json:"qc_manager_by,omitempty"       gorm:"type:varchar(128)"`
	SolutionDirector  string `json:"solution_giam_doc,omitempty"   gorm:"type:text"`
	DirectorBy        string `json:"giam_doc_by,omitempty"         gorm:"type:varchar(128)"`
	SolutionBoard     string `json:"solution_bgd_tan_phu,omitempty" gorm:"type:text"`
	BoardBy           string `json:"bgd_tan_phu_by,omitempty"      gorm:"type:varchar(128)"`

	RejectReason string `json:"reject_reason,omitempty" gorm:"type:text"`
	CancelReason string `json:"cancel_reason,omitempty" gorm:"type:text"`

	KPStatus       string     `json:"kp_status,omitempty"        gorm:"type:varchar(16)"`
	KPAssignedBy   string     `json:"kp_assigned_by,omitempty"   gorm:"type:varchar(32)"`
	KPAssignerName string     `json:"kp_assigner_name,omitempty" gorm:"type:varchar(128)"`
	KPAssignedTo   string     `json:"kp_assigned_to,omitempty"   gorm:"type:varchar(32)"`
	KPAssignedDept string     `json:"kp_assigned_dept,omitempty" gorm:"type:varchar(32)"`
	KPMessage      string     `json:"kp_message,omitempty"       gorm:"type:text"`
	KPDeadline     *time.Time `json:"kp_deadline,omitempty"`
	KPResponse     string     `json:"kp_response,omitempty"      gorm:"type:text"`
	KPReturnNote   string     `json:"kp_return_note,omitempty"   gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

// TableName returns the database table name for NCRRow.
func (NCRRow) TableName() string { return "ncr_rows" }

// NCRSequence holds the last allocated sequence number of a numbering series
// such as "FI-01" or "PASS-FI-01".
type NCRSequence struct {
	Series    string    `gorm:"type:varchar(64);primaryKey"`
	Seq       int       `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// TableName returns the database table name for NCRSequence.
func (NCRSequence) TableName() string { return "ncr_sequences" }

// TicketEvent is an append-only audit entry recorded for every status change
// of a ticket, including creation.
type TicketEvent struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	TicketNo   string    `json:"ticket_no"   gorm:"type:varchar(64);not null;index:idx_event_ticket,priority:1"`
	Action     string    `json:"action"      gorm:"type:varchar(32);not null"`
	Actor      string    `json:"actor"       gorm:"type:varchar(128);not null"`
	Role       string    `json:"role"        gorm:"type:varchar(32);not null"`
	FromStatus string    `json:"from_status" gorm:"type:varchar(48)"`
	ToStatus   string    `json:"to_status"   gorm:"type:varchar(48);not null"`
	Note       string    `json:"note,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"  gorm:"index:idx_event_ticket,priority:2"`
}

// TableName returns the database table name for TicketEvent.
func (TicketEvent) TableName() string { return "ticket_events" }
