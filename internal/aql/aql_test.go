package aql

import (
	"math"
	"testing"
)

func TestTable_PartitionsPositiveLotSizes(t *testing.T) {
	tbl := Table()
	if len(tbl) != 15 {
		t.Fatalf("expected 15 bands, got %d", len(tbl))
	}
	if tbl[0].MinLot != 1 {
		t.Fatalf("first band must start at 1, got %d", tbl[0].MinLot)
	}
	for i := 1; i < len(tbl); i++ {
		if tbl[i].MinLot != tbl[i-1].MaxLot+1 {
			t.Fatalf("gap/overlap between band %d and %d: %+v %+v", i-1, i, tbl[i-1], tbl[i])
		}
	}
	if tbl[len(tbl)-1].MaxLot != math.MaxInt {
		t.Fatalf("last band must be open-ended")
	}
}

func TestLookup_ReturnsContainingBand(t *testing.T) {
	for _, n := range []int{1, 8, 9, 15, 16, 50, 51, 100, 150, 151, 500, 501, 1200, 3200, 10000, 35000, 150000, 500000, 500001, 10_000_000} {
		std, ok := Lookup(n)
		if !ok {
			t.Fatalf("lookup(%d) not found", n)
		}
		if !std.Contains(n) {
			t.Fatalf("band %+v does not contain %d", std, n)
		}
	}
}

func TestLookup_KnownBands(t *testing.T) {
	tests := []struct {
		lot    int
		code   string
		sample int
		major  int
		minor  int
	}{
		{8, "A", 2, 0, 0},
		{100, "F", 20, 1, 2},
		{280, "G", 32, 2, 3},
		{281, "H", 50, 3, 5},
		{1000, "J", 80, 5, 7},
		{600000, "Q", 1250, 21, 21},
	}
	for _, tc := range tests {
		std, ok := Lookup(tc.lot)
		if !ok || std.Code != tc.code || std.SampleSize != tc.sample || std.AcMajor != tc.major || std.AcMinor != tc.minor {
			t.Fatalf("lookup(%d) = %+v, %v", tc.lot, std, ok)
		}
	}
}

func TestLookup_NonPositive(t *testing.T) {
	for _, n := range []int{0, -1, math.MinInt} {
		if _, ok := Lookup(n); ok {
			t.Fatalf("lookup(%d) should fail", n)
		}
	}
}

func TestLookupString(t *testing.T) {
	if std, ok := LookupString(" 1 200 "); !ok || std.Code != "J" {
		t.Fatalf("got %+v %v", std, ok)
	}
	if std, ok := LookupString("90.0"); !ok || std.Code != "E" {
		t.Fatalf("got %+v %v", std, ok)
	}
	for _, raw := range []string{"", "abc", "NaN", "-5", "0"} {
		if _, ok := LookupString(raw); ok {
			t.Fatalf("LookupString(%q) should fail", raw)
		}
	}
}

func TestLookupString_SameBoundForIntegersAndDecimals(t *testing.T) {
	for _, raw := range []string{"2147483647", "2147483647.0"} {
		if std, ok := LookupString(raw); !ok || std.Code != "Q" {
			t.Fatalf("LookupString(%q)=%+v %v", raw, std, ok)
		}
	}
	for _, raw := range []string{"2147483648", "2147483648.0", "9223372036854775807"} {
		if _, ok := LookupString(raw); ok {
			t.Fatalf("LookupString(%q) above the bound should fail", raw)
		}
	}
}
