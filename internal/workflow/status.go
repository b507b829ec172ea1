// Package workflow holds the NCR approval state machine: statuses, roles,
// the approve/reject transition tables, department capability profiles and
// ticket numbering. Everything here is pure and safe for concurrent use; the
// services package applies these rules against persisted state.
package workflow

import (
	"fmt"
	"strings"
)

// Status is the persisted workflow state of an NCR ticket.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusPendingShiftLead Status = "cho_truong_ca"
	StatusPendingDeptHead  Status = "cho_truong_bp"
	StatusPendingQCManager Status = "cho_qc_manager"
	StatusPendingDirector  Status = "cho_giam_doc"
	StatusPendingBoard     Status = "cho_bgd_tan_phu"
	StatusDone             Status = "hoan_thanh"
	StatusCancelled        Status = "da_huy"
)

const (
	correctivePrefix = "khac_phuc_"
	confirmPrefix    = "xac_nhan_kp_"
)

// CorrectiveStatus is the state of a ticket waiting for role r to carry out a
// corrective action.
func CorrectiveStatus(r Role) Status { return Status(correctivePrefix + r.Slug()) }

// ConfirmStatus is the state of a ticket waiting for role r to confirm a
// corrective action it assigned.
func ConfirmStatus(r Role) Status { return Status(confirmPrefix + r.Slug()) }

// CorrectiveRole returns the assignee encoded in a khac_phuc_* status.
func (s Status) CorrectiveRole() (Role, bool) {
	return roleFromSuffix(string(s), correctivePrefix)
}

// ConfirmRole returns the assigner encoded in a xac_nhan_kp_* status.
func (s Status) ConfirmRole() (Role, bool) {
	return roleFromSuffix(string(s), confirmPrefix)
}

func roleFromSuffix(s, prefix string) (Role, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	r, err := ParseRole(strings.TrimPrefix(s, prefix))
	if err != nil || !r.Approver() {
		return "", false
	}
	return r, true
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

var mainChain = []Status{
	StatusDraft,
	StatusPendingShiftLead,
	StatusPendingDeptHead,
	StatusPendingQCManager,
	StatusPendingDirector,
	StatusPendingBoard,
	StatusDone,
	StatusCancelled,
}

// MainStatuses lists the statuses of the main approval chain in order.
func MainStatuses() []Status {
	out := make([]Status, len(mainChain))
	copy(out, mainChain)
	return out
}

// ParseStatus validates a raw status string, including the corrective-action
// sub-states.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, m := range mainChain {
		if s == m {
			return s, nil
		}
	}
	if _, ok := s.CorrectiveRole(); ok {
		return s, nil
	}
	if _, ok := s.ConfirmRole(); ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}
