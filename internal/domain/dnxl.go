package domain

import (
	"time"

	"gorm.io/datatypes"
)

// DNXL is the master record of a remediation request raised against an NCR.
// Many DNXLs may reference the same ticket.
type DNXL struct {
	ID            string                      `json:"id"              gorm:"type:char(36);primaryKey"`
	NCRTicketNo   string                      `json:"ncr_ticket_no"   gorm:"type:varchar(64);not null;index"`
	Scope         string                      `json:"scope"           gorm:"type:text;not null"`
	Instruction   string                      `json:"instruction"     gorm:"type:text"`
	Deadline      *time.Time                  `json:"deadline,omitempty"`
	Status        string                      `json:"status"          gorm:"type:varchar(32);not null;index"`
	CreatedBy     string                      `json:"created_by"      gorm:"type:varchar(128);not null"`
	ClaimedBy     string                      `json:"claimed_by,omitempty" gorm:"type:varchar(128)"`
	ClaimedAt     *time.Time                  `json:"claimed_at,omitempty"`
	Response      string                      `json:"response,omitempty" gorm:"type:text"`
	Images        datatypes.JSONSlice[string] `json:"images"`
	ReviewNote    string                      `json:"review_note,omitempty" gorm:"type:text"`
	ResultSummary string                      `json:"result_summary,omitempty" gorm:"type:text"`
	CompletedBy   string                      `json:"completed_by,omitempty" gorm:"type:varchar(128)"`
	CompletedAt   *time.Time                  `json:"completed_at,omitempty"`
	Forced        bool                        `json:"forced"          gorm:"not null;default:false"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`

	// Details are the remediated lines. Deleting a master that still has
	// details is refused.
	Details []DNXLDetail `json:"details,omitempty" gorm:"foreignKey:DNXLID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for DNXL.
func (DNXL) TableName() string { return "dnxl" }

// DNXLDetail is one defect line being remediated. Details are never deleted;
// only their quantity and note columns change after creation.
type DNXLDetail struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	DNXLID      string    `json:"dnxl_id"      gorm:"type:char(36);not null;index"`
	DefectName  string    `json:"defect_name"  gorm:"type:varchar(255);not null"`
	AssignedQty int       `json:"assigned_qty" gorm:"not null;default:0"`
	FixedQty    int       `json:"fixed_qty"    gorm:"not null;default:0"`
	FailedQty   int       `json:"failed_qty"   gorm:"not null;default:0"`
	Note        string    `json:"note,omitempty" gorm:"type:text"`
	AdHoc       bool      `json:"ad_hoc"       gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for DNXLDetail.
func (DNXLDetail) TableName() string { return "dnxl_details" }
