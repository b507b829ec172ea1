package workflow

import (
	"fmt"
	"strings"
)

// Role identifies who is acting on a ticket.
type Role string

const (
	RoleUser      Role = "USER" // creator / line worker
	RoleShiftLead Role = "TRUONG_CA"
	RoleDeptHead  Role = "TRUONG_BP"
	RoleQCManager Role = "QC_MANAGER"
	RoleDirector  Role = "GIAM_DOC"
	RoleBoard     Role = "BGD_TAN_PHU"
)

var pendingByRole = map[Role]Status{
	RoleShiftLead: StatusPendingShiftLead,
	RoleDeptHead:  StatusPendingDeptHead,
	RoleQCManager: StatusPendingQCManager,
	RoleDirector:  StatusPendingDirector,
	RoleBoard:     StatusPendingBoard,
}

// ParseRole accepts either the role code ("QC_MANAGER") or its slug
// ("qc_manager").
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch r {
	case RoleUser, RoleShiftLead, RoleDeptHead, RoleQCManager, RoleDirector, RoleBoard:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Slug is the lower-case form used inside corrective-action statuses.
func (r Role) Slug() string { return strings.ToLower(string(r)) }

// Approver reports whether r owns a step of the approval chain.
func (r Role) Approver() bool {
	_, ok := pendingByRole[r]
	return ok
}

// PendingStatus is the main-chain status at which r decides.
func (r Role) PendingStatus() (Status, bool) {
	s, ok := pendingByRole[r]
	return s, ok
}

// Authorized lists the literal statuses r may approve or reject. Approver
// roles cover both their pending status and the confirmation of a corrective
// action they assigned.
func Authorized(r Role) []Status {
	if r == RoleUser {
		return []Status{StatusDraft}
	}
	p, ok := pendingByRole[r]
	if !ok {
		return nil
	}
	return []Status{p, ConfirmStatus(r)}
}

// CanAct reports whether r may approve or reject a ticket in status s.
func CanAct(r Role, s Status) bool {
	for _, a := range Authorized(r) {
		if a == s {
			return true
		}
	}
	return false
}
