package workflow

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultCatalog_DeriveDepartment(t *testing.T) {
	c := DefaultCatalog()
	tests := []struct {
		ticket string
		want   string
	}{
		{"FI-01-01", "FI"},
		{"MAY-03-12", "MAY"},
		{"MAYM-03-02", "MAYMAU"},
		{"PASS-FI-01-01", "FI"},
		{"nl-07-04", "KHO"},
		{"PL-07-04", "KHO"},
	}
	for _, tc := range tests {
		got, err := c.DeriveDepartment(tc.ticket)
		if err != nil || got != tc.want {
			t.Fatalf("DeriveDepartment(%q) = %q, %v; want %q", tc.ticket, got, err, tc.want)
		}
	}
	if _, err := c.DeriveDepartment("ZZZ-01-01"); !errors.Is(err, ErrUnknownDepartment) {
		t.Fatalf("expected ErrUnknownDepartment, got %v", err)
	}
}

func TestDefaultCatalog_Profiles(t *testing.T) {
	c := DefaultCatalog()
	if c.Version() == "" {
		t.Fatal("version must be set")
	}
	fi, err := c.Profile("FI")
	if err != nil {
		t.Fatal(err)
	}
	if fi.HasDeptHead() || !fi.UsesAQL() {
		t.Fatalf("FI profile flags wrong: %+v", fi)
	}
	pfx, err := c.ResolvePrefix("KHO", "  nguyên  LIỆU ")
	if err != nil || pfx != "NL" {
		t.Fatalf("ResolvePrefix = %q, %v", pfx, err)
	}
	pfx, _ = c.ResolvePrefix("KHO", "")
	if pfx != "KHO" {
		t.Fatalf("default prefix = %q", pfx)
	}
	if _, err := c.ResolvePrefix("NOPE", ""); !errors.Is(err, ErrUnknownDepartment) {
		t.Fatalf("expected unknown department, got %v", err)
	}
	if n := len(c.Profiles()); n != 5 {
		t.Fatalf("profiles = %d", n)
	}
}

func TestNewProfile_RequiredFields(t *testing.T) {
	_, err := NewProfile(ProfileSpec{Code: "X", Name: "X", Prefix: "X"})
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "has_dept_head") || !strings.Contains(err.Error(), "uses_aql") {
		t.Fatalf("error should name missing fields: %v", err)
	}
	yes := true
	if _, err := NewProfile(ProfileSpec{Code: "X", Name: "X", Prefix: "PASS", HasDeptHead: &yes, UsesAQL: &yes}); err == nil {
		t.Fatal("PASS prefix must be reserved")
	}
}

func TestParseCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"no version":     "departments:\n  - {code: A, name: A, prefix: A, has_dept_head: true, uses_aql: true}\n",
		"empty":          "version: '1'\n",
		"dup prefix":     "version: '1'\ndepartments:\n  - {code: A, name: A, prefix: A, has_dept_head: true, uses_aql: true}\n  - {code: B, name: B, prefix: A, has_dept_head: true, uses_aql: true}\n",
		"missing flag":   "version: '1'\ndepartments:\n  - {code: A, name: A, prefix: A, uses_aql: true}\n",
		"malformed yaml": "version: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadCatalog_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.yaml")
	raw := "version: '9'\ndepartments:\n  - {code: QA, name: QA, prefix: QA, has_dept_head: false, uses_aql: false}\n"
	if err := os.WriteFile(p, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Version() != "9" {
		t.Fatalf("version = %q", c.Version())
	}
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if c, err := LoadCatalog(""); err != nil || c.Version() != DefaultCatalog().Version() {
		t.Fatalf("empty path must load embedded catalog: %v", err)
	}
}

func TestProfile_MarshalJSON(t *testing.T) {
	p, _ := DefaultCatalog().Profile("KHO")
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	if out["code"] != "KHO" || out["has_dept_head"] != true {
		t.Fatalf("unexpected json: %s", b)
	}
	if pf, _ := out["prefixes"].([]any); len(pf) != 3 {
		t.Fatalf("prefixes = %v", out["prefixes"])
	}
}

func TestTicketNo(t *testing.T) {
	if got := FormatTicketNo("FI", time.January, 1); got != "FI-01-01" {
		t.Fatalf("FormatTicketNo = %q", got)
	}
	if got := FormatPassTicketNo("FI", time.December, 123); got != "PASS-FI-12-123" {
		t.Fatalf("FormatPassTicketNo = %q", got)
	}
	tn, err := ParseTicketNo("pass-nl-07-04")
	if err != nil {
		t.Fatal(err)
	}
	if !tn.Pass || tn.Prefix != "NL" || tn.Month != 7 || tn.Seq != 4 {
		t.Fatalf("ParseTicketNo = %+v", tn)
	}
	if tn.Series() != "PASS-NL-07" || SeriesKey("FI", time.March, false) != "FI-03" {
		t.Fatalf("series keys wrong: %s", tn.Series())
	}
	for _, bad := range []string{"", "FI-01", "FI-13-01", "FI-01-00", "-01-01", "FI-xx-01"} {
		if _, err := ParseTicketNo(bad); err == nil {
			t.Fatalf("ParseTicketNo(%q) should fail", bad)
		}
	}
}
