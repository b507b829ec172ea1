package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/go-ncr-backend/internal/services"
)

// recordingFlow remembers the last call and answers with err when set.
type recordingFlow struct {
	op    string
	actor services.Actor
	no    string
	args  []string
	in    services.AssignInput
	err   error
}

func (f *recordingFlow) done(op string, a services.Actor, no string, args ...string) (*services.Ticket, error) {
	f.op, f.actor, f.no, f.args = op, a, no, args
	if f.err != nil {
		return nil, f.err
	}
	return &services.Ticket{TicketNo: no, Status: "after_" + op}, nil
}

func (f *recordingFlow) Approve(_ context.Context, a services.Actor, no, target, note string) (*services.Ticket, error) {
	return f.done("approve", a, no, target, note)
}

func (f *recordingFlow) Reject(_ context.Context, a services.Actor, no, seen, reason string) (*services.Ticket, error) {
	return f.done("reject", a, no, seen, reason)
}

func (f *recordingFlow) Cancel(_ context.Context, a services.Actor, no, reason string) (*services.Ticket, error) {
	return f.done("cancel", a, no, reason)
}

func (f *recordingFlow) AssignCorrectiveAction(_ context.Context, a services.Actor, no string, in services.AssignInput) (*services.Ticket, error) {
	f.in = in
	return f.done("assign", a, no)
}

func (f *recordingFlow) SubmitCorrectiveAction(_ context.Context, a services.Actor, no, response string) (*services.Ticket, error) {
	return f.done("submit", a, no, response)
}

func (f *recordingFlow) AcceptCorrectiveAction(_ context.Context, a services.Actor, no, note string) (*services.Ticket, error) {
	return f.done("accept", a, no, note)
}

func (f *recordingFlow) ReturnCorrectiveAction(_ context.Context, a services.Actor, no, note string) (*services.Ticket, error) {
	return f.done("return", a, no, note)
}

func (f *recordingFlow) RecallCorrectiveAction(_ context.Context, a services.Actor, no, reason string) (*services.Ticket, error) {
	return f.done("recall", a, no, reason)
}

func TestWorkflowEndpoints_RouteToService(t *testing.T) {
	cases := []struct {
		path string
		body any
		op   string
		args []string
	}{
		{"/tickets/FI-01-001/approve", ApproveRequest{TargetStatus: "cho_giam_doc", Note: "escalate"}, "approve", []string{"cho_giam_doc", "escalate"}},
		{"/tickets/FI-01-001/approve", nil, "approve", []string{"", ""}},
		{"/tickets/FI-01-001/reject", RejectRequest{SeenStatus: "cho_qc_manager", Reason: "wrong lot"}, "reject", []string{"cho_qc_manager", "wrong lot"}},
		{"/tickets/FI-01-001/cancel", CancelRequest{Reason: "duplicate"}, "cancel", []string{"duplicate"}},
		{"/tickets/FI-01-001/corrective-action/submit", SubmitCorrectiveRequest{Response: "fixed die"}, "submit", []string{"fixed die"}},
		{"/tickets/FI-01-001/corrective-action/accept", NoteRequest{Note: "ok"}, "accept", []string{"ok"}},
		{"/tickets/FI-01-001/corrective-action/return", NoteRequest{Note: "photos missing"}, "return", []string{"photos missing"}},
		{"/tickets/FI-01-001/corrective-action/recall", RecallRequest{Reason: "wrong line"}, "recall", []string{"wrong line"}},
	}
	for _, tc := range cases {
		t.Run(tc.op+tc.path, func(t *testing.T) {
			flow := &recordingFlow{}
			r := newTestRouter(New(stubTickets{}, flow, nil, nil))

			w := do(r, http.MethodPost, tc.path, qcManager, tc.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if flow.op != tc.op || flow.no != "FI-01-001" || flow.actor.Name != qcManager.name {
				t.Fatalf("call=%+v", flow)
			}
			if fmt.Sprint(flow.args) != fmt.Sprint(tc.args) {
				t.Fatalf("args=%q want %q", flow.args, tc.args)
			}
			if tk := decode[services.Ticket](t, w); tk.Status != "after_"+tc.op {
				t.Fatalf("ticket=%+v", tk)
			}
		})
	}
}

func TestAssignCorrectiveAction_DecodesDeadline(t *testing.T) {
	flow := &recordingFlow{}
	r := newTestRouter(New(stubTickets{}, flow, nil, nil))

	w := do(r, http.MethodPost, "/tickets/FI-01-001/corrective-action", qcManager,
		`{"assign_to":"TRUONG_CA","message":"check die","deadline":"2024-06-03T17:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	want := time.Date(2024, 6, 3, 17, 0, 0, 0, time.UTC)
	if flow.in.AssignTo != "TRUONG_CA" || flow.in.Message != "check die" || flow.in.Deadline == nil || !flow.in.Deadline.Equal(want) {
		t.Fatalf("input=%+v", flow.in)
	}
}

func TestAssignCorrectiveAction_DepartmentTarget(t *testing.T) {
	flow := &recordingFlow{}
	r := newTestRouter(New(stubTickets{}, flow, nil, nil))

	w := do(r, http.MethodPost, "/tickets/FI-01-001/corrective-action", qcManager,
		`{"department":"MAY","message":"check the seams"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if flow.in.AssignTo != "" || flow.in.Department != "MAY" || flow.in.Message != "check the seams" {
		t.Fatalf("input=%+v", flow.in)
	}
}

func TestWorkflowEndpoints_Errors(t *testing.T) {
	flow := &recordingFlow{err: fmt.Errorf("%w: ticket is now cho_giam_doc", services.ErrStaleOrUnauthorized)}
	r := newTestRouter(New(stubTickets{}, flow, nil, nil))

	w := do(r, http.MethodPost, "/tickets/FI-01-001/approve", qcManager, nil)
	if w.Code != http.StatusConflict || decode[ErrorResponse](t, w).Code != ErrCodeStale {
		t.Fatalf("stale: status=%d body=%s", w.Code, w.Body.String())
	}

	flow.op = ""
	if w := do(r, http.MethodPost, "/tickets/FI-01-001/reject", anonymous, RejectRequest{Reason: "x"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status=%d", w.Code)
	}
	if flow.op != "" {
		t.Fatalf("service must not run without a caller")
	}

	if w := do(r, http.MethodPost, "/tickets/FI-01-001/cancel", qcManager, `{"reason":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: status=%d", w.Code)
	}

	flow.err = fmt.Errorf("%w: FI-09-999", services.ErrTicketNotFound)
	if w := do(r, http.MethodPost, "/tickets/FI-09-999/corrective-action/submit", worker, SubmitCorrectiveRequest{Response: "r"}); w.Code != http.StatusNotFound {
		t.Fatalf("not found: status=%d", w.Code)
	}
}
