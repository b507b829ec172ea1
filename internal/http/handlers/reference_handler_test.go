package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tbourn/go-ncr-backend/internal/aql"
	"github.com/tbourn/go-ncr-backend/internal/search"
	"github.com/tbourn/go-ncr-backend/internal/services"
)

func TestAQLStandard(t *testing.T) {
	r := newTestRouter(New(stubTickets{}, nil, nil, nil))

	w := do(r, http.MethodGet, "/aql/standard", anonymous, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if tbl := decode[AQLTableResponse](t, w); len(tbl.Standards) != len(aql.Table()) || tbl.Standards[0].MinLot != 1 {
		t.Fatalf("table=%+v", tbl)
	}

	w = do(r, http.MethodGet, "/aql/standard?lot_size=500", anonymous, nil)
	if std := decode[aql.Standard](t, w); std.Code != "H" || std.SampleSize != 50 {
		t.Fatalf("band=%+v", std)
	}

	for _, bad := range []string{"0", "-5", "abc"} {
		if w := do(r, http.MethodGet, "/aql/standard?lot_size="+bad, anonymous, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("lot_size=%s: status=%d", bad, w.Code)
		}
	}
}

func TestEvaluateAQL(t *testing.T) {
	r := newTestRouter(New(stubTickets{}, nil, nil, nil))

	cases := []struct {
		name    string
		body    any
		status  int
		verdict aql.Verdict
	}{
		{"limits met pass", EvaluateRequest{LotSize: 500, Major: 3, Minor: 5}, http.StatusOK, aql.Pass},
		{"major over fails", EvaluateRequest{LotSize: 500, Major: 4}, http.StatusOK, aql.Fail},
		{"tallied lines", EvaluateRequest{LotSize: 500, Defects: []EvaluateDefect{
			{Severity: "Nghiêm trọng", Quantity: 2}, {Severity: "nang", Quantity: 2},
		}}, http.StatusOK, aql.Fail},
		{"custom limits", EvaluateRequest{LotSize: 500, Major: 4, CustomLimits: &aql.Limits{AcMajor: 4}}, http.StatusOK, aql.Pass},
		{"no band", EvaluateRequest{LotSize: 0, Major: 1}, http.StatusOK, aql.NotAvailable},
		{"unknown severity", EvaluateRequest{LotSize: 500, Defects: []EvaluateDefect{{Severity: "weird", Quantity: 1}}}, http.StatusBadRequest, ""},
		{"negative totals", EvaluateRequest{LotSize: 500, Major: -1}, http.StatusBadRequest, ""},
		{"negative limits", EvaluateRequest{LotSize: 500, CustomLimits: &aql.Limits{AcMinor: -1}}, http.StatusBadRequest, ""},
		{"malformed", `{"lot_size":"x"}`, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/aql/evaluate", anonymous, tc.body)
			if w.Code != tc.status {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if tc.status == http.StatusOK {
				if got := decode[EvaluateResponse](t, w); got.Verdict != tc.verdict {
					t.Fatalf("verdict=%s want %s (%+v)", got.Verdict, tc.verdict, got.Details)
				}
			}
		})
	}
}

func TestListDepartments(t *testing.T) {
	r := newTestRouter(New(stubTickets{}, nil, nil, nil))

	w := do(r, http.MethodGet, "/departments", anonymous, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body struct {
		Version     string `json:"version"`
		Departments []struct {
			Code     string   `json:"code"`
			Prefixes []string `json:"prefixes"`
		} `json:"departments"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Version == "" || len(body.Departments) == 0 {
		t.Fatalf("catalog=%+v", body)
	}
	for _, d := range body.Departments {
		if d.Code == "" || len(d.Prefixes) == 0 {
			t.Fatalf("department=%+v", d)
		}
	}
}

func TestSuggestDefects_ClampsK(t *testing.T) {
	var gotQ string
	var gotK int
	r := newTestRouter(New(stubTickets{
		suggest: func(_ context.Context, q string, k int) ([]search.Result, error) {
			gotQ, gotK = q, k
			return []search.Result{{Name: "Vết bẩn", Score: 1}}, nil
		},
	}, nil, nil, nil))

	w := do(r, http.MethodGet, "/defects/suggest?q=vet+ban&k=500", anonymous, nil)
	if w.Code != http.StatusOK || gotQ != "vet ban" || gotK != 20 {
		t.Fatalf("status=%d q=%q k=%d", w.Code, gotQ, gotK)
	}
	if got := decode[SuggestResponse](t, w); len(got.Suggestions) != 1 || got.Suggestions[0].Name != "Vết bẩn" {
		t.Fatalf("suggestions=%+v", got)
	}

	do(r, http.MethodGet, "/defects/suggest?q=x", anonymous, nil)
	if gotK != 5 {
		t.Fatalf("default k=%d", gotK)
	}
}

func TestSuggestDefects_StoreFailure(t *testing.T) {
	r := newTestRouter(New(stubTickets{
		suggest: func(context.Context, string, int) ([]search.Result, error) {
			return nil, services.ErrStoreFailure
		},
	}, nil, nil, nil))
	if w := do(r, http.MethodGet, "/defects/suggest?q=x", anonymous, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}
