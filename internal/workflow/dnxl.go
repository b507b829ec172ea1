package workflow

import (
	"fmt"
	"strings"
)

// DNXLStatus is the lifecycle state of a remediation request. It is tracked
// independently of the parent NCR's approval status.
type DNXLStatus string

const (
	DNXLCreated       DNXLStatus = "moi_tao"
	DNXLInProgress    DNXLStatus = "dang_xu_ly"
	DNXLReturned      DNXLStatus = "tra_lai"
	DNXLPendingReview DNXLStatus = "cho_duyet_ket_qua"
	DNXLDone          DNXLStatus = "hoan_thanh"
)

// ReviewDecision is the reviewer's verdict on submitted remediation work.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "approve"
	ReviewReject  ReviewDecision = "reject"
)

// ParseReviewDecision accepts "approve" or "reject" in any case.
func ParseReviewDecision(raw string) (ReviewDecision, error) {
	d := ReviewDecision(strings.ToLower(strings.TrimSpace(raw)))
	if d == ReviewApprove || d == ReviewReject {
		return d, nil
	}
	return "", fmt.Errorf("unknown review decision %q", raw)
}

// Terminal reports whether the request is closed.
func (s DNXLStatus) Terminal() bool { return s == DNXLDone }

// CanClaim reports whether a worker may claim a request in status s.
func (s DNXLStatus) CanClaim() bool { return s == DNXLCreated }

// CanSubmit reports whether progress may be submitted in status s.
func (s DNXLStatus) CanSubmit() bool { return s == DNXLInProgress || s == DNXLReturned }

// CanReview reports whether a reviewer may decide in status s.
func (s DNXLStatus) CanReview() bool { return s == DNXLPendingReview }

// CanForceComplete reports whether the reviewer escape hatch applies. Any
// open request may be closed directly, bypassing claim, submit and review,
// to record a resolution reached outside the system.
func (s DNXLStatus) CanForceComplete() bool { return !s.Terminal() }

// AfterReview returns the status a review decision leads to.
func AfterReview(d ReviewDecision) DNXLStatus {
	if d == ReviewApprove {
		return DNXLDone
	}
	return DNXLReturned
}
