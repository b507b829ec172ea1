package workflow

// Effective maps a corrective-action confirmation status back to the main
// chain position of the assigner; other statuses are returned unchanged.
func Effective(s Status) Status {
	if r, ok := s.ConfirmRole(); ok {
		p, _ := r.PendingStatus()
		return p
	}
	return s
}

// NextStatus returns the default approve successor of current. Departments
// without a dept-head step go from the shift lead straight to QC.
func NextStatus(current Status, p Profile) (Status, bool) {
	switch Effective(current) {
	case StatusDraft:
		return StatusPendingShiftLead, true
	case StatusPendingShiftLead:
		if p.HasDeptHead() {
			return StatusPendingDeptHead, true
		}
		return StatusPendingQCManager, true
	case StatusPendingDeptHead:
		return StatusPendingQCManager, true
	case StatusPendingQCManager:
		return StatusPendingDirector, true
	case StatusPendingDirector:
		return StatusPendingBoard, true
	case StatusPendingBoard:
		return StatusDone, true
	}
	return "", false
}

// qcOverrides are the manual routing choices open to the QC manager in
// addition to the default successor.
var qcOverrides = []Status{StatusPendingBoard, StatusDone}

// AllowedTargets lists every status an approval from current may move to:
// the default successor first, followed by QC-manager overrides.
func AllowedTargets(current Status, p Profile) []Status {
	next, ok := NextStatus(current, p)
	if !ok {
		return nil
	}
	out := []Status{next}
	if Effective(current) == StatusPendingQCManager {
		out = append(out, qcOverrides...)
	}
	return out
}

// IsAllowedTarget reports whether target is a legal approve destination.
func IsAllowedTarget(current, target Status, p Profile) bool {
	for _, s := range AllowedTargets(current, p) {
		if s == target {
			return true
		}
	}
	return false
}

// escalation is the reject table. Every rejection currently sends the ticket
// back to draft for the creator to fix and resubmit.
var escalation = map[Status]Status{
	StatusPendingShiftLead: StatusDraft,
	StatusPendingDeptHead:  StatusDraft,
	StatusPendingQCManager: StatusDraft,
	StatusPendingDirector:  StatusDraft,
	StatusPendingBoard:     StatusDraft,
}

// Escalation returns the status a rejected ticket reverts to. Unmapped
// statuses fall back to draft.
func Escalation(current Status) Status {
	if s, ok := escalation[Effective(current)]; ok {
		return s
	}
	return StatusDraft
}

// EscalationTable returns a copy of the explicit reject mappings.
func EscalationTable() map[Status]Status {
	out := make(map[Status]Status, len(escalation))
	for k, v := range escalation {
		out[k] = v
	}
	return out
}
