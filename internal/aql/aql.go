// Package aql implements the AQL (Acceptable Quality Limit) sampling standard
// used to accept or reject a production lot. The table follows the General
// Inspection Level II single sampling plan with AQL 2.5 for major defects and
// AQL 4.0 for minor defects.
//
// The package is pure: no I/O, no logging, safe for concurrent use.
package aql

import (
	"math"
	"strconv"
	"strings"
)

// Standard is one band of the sampling table. A lot size n belongs to the band
// when MinLot <= n <= MaxLot. The last band has MaxLot = math.MaxInt.
type Standard struct {
	MinLot     int    `json:"min_lot"`
	MaxLot     int    `json:"max_lot"`
	Code       string `json:"code"`
	SampleSize int    `json:"sample_size"`
	AcMajor    int    `json:"ac_major"`
	AcMinor    int    `json:"ac_minor"`
}

// Contains reports whether lotSize falls inside the band.
func (s Standard) Contains(lotSize int) bool {
	return lotSize >= s.MinLot && lotSize <= s.MaxLot
}

// Limits returns the acceptance numbers of the band.
func (s Standard) Limits() Limits {
	return Limits{AcMajor: s.AcMajor, AcMinor: s.AcMinor}
}

// upper bounds of each band, ascending; the final band is open-ended.
var table = []Standard{
	{MaxLot: 8, Code: "A", SampleSize: 2, AcMajor: 0, AcMinor: 0},
	{MaxLot: 15, Code: "B", SampleSize: 3, AcMajor: 0, AcMinor: 0},
	{MaxLot: 25, Code: "C", SampleSize: 5, AcMajor: 0, AcMinor: 0},
	{MaxLot: 50, Code: "D", SampleSize: 8, AcMajor: 0, AcMinor: 1},
	{MaxLot: 90, Code: "E", SampleSize: 13, AcMajor: 1, AcMinor: 1},
	{MaxLot: 150, Code: "F", SampleSize: 20, AcMajor: 1, AcMinor: 2},
	{MaxLot: 280, Code: "G", SampleSize: 32, AcMajor: 2, AcMinor: 3},
	{MaxLot: 500, Code: "H", SampleSize: 50, AcMajor: 3, AcMinor: 5},
	{MaxLot: 1200, Code: "J", SampleSize: 80, AcMajor: 5, AcMinor: 7},
	{MaxLot: 3200, Code: "K", SampleSize: 125, AcMajor: 7, AcMinor: 10},
	{MaxLot: 10000, Code: "L", SampleSize: 200, AcMajor: 10, AcMinor: 14},
	{MaxLot: 35000, Code: "M", SampleSize: 315, AcMajor: 14, AcMinor: 21},
	{MaxLot: 150000, Code: "N", SampleSize: 500, AcMajor: 21, AcMinor: 21},
	{MaxLot: 500000, Code: "P", SampleSize: 800, AcMajor: 21, AcMinor: 21},
	{MaxLot: math.MaxInt, Code: "Q", SampleSize: 1250, AcMajor: 21, AcMinor: 21},
}

func init() {
	lo := 1
	for i := range table {
		table[i].MinLot = lo
		lo = table[i].MaxLot + 1
	}
}

// Table returns a copy of the sampling table in ascending lot-size order.
func Table() []Standard {
	out := make([]Standard, len(table))
	copy(out, table)
	return out
}

// Lookup returns the band containing lotSize. It returns false for
// lotSize <= 0.
func Lookup(lotSize int) (Standard, bool) {
	if lotSize <= 0 {
		return Standard{}, false
	}
	for _, s := range table {
		if lotSize <= s.MaxLot {
			return s, true
		}
	}
	return Standard{}, false
}

// maxFormLot bounds lot sizes read from form input, integer or decimal.
const maxFormLot = math.MaxInt32

// LookupString parses a raw form value (e.g. "1 200" or "500.0") and looks it
// up. Non-numeric input and lots above maxFormLot yield false.
func LookupString(raw string) (Standard, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if raw == "" {
		return Standard{}, false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n > maxFormLot {
			return Standard{}, false
		}
		return Lookup(n)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > maxFormLot {
		return Standard{}, false
	}
	return Lookup(int(f))
}
