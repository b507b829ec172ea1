package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PassPrefix marks the separate numbering series of lots that passed AQL
// sampling and were completed without approval.
const PassPrefix = "PASS"

// TicketNo is the parsed form of "{PREFIX}-{MM}-{SEQ}".
type TicketNo struct {
	Pass   bool
	Prefix string
	Month  int
	Seq    int
}

// String formats the ticket number.
func (t TicketNo) String() string {
	s := fmt.Sprintf("%s-%02d-%02d", t.Prefix, t.Month, t.Seq)
	if t.Pass {
		return PassPrefix + "-" + s
	}
	return s
}

// Series is the sequence key shared by all tickets of a prefix and month.
func (t TicketNo) Series() string {
	return SeriesKey(t.Prefix, time.Month(t.Month), t.Pass)
}

// SeriesKey builds the allocator key, e.g. "FI-01" or "PASS-FI-01". The
// printed number carries no year, so the key has none either: January of
// the next year continues the same counter instead of reissuing FI-01-01.
func SeriesKey(prefix string, month time.Month, pass bool) string {
	k := fmt.Sprintf("%s-%02d", prefix, int(month))
	if pass {
		return PassPrefix + "-" + k
	}
	return k
}

// FormatTicketNo formats a regular ticket number.
func FormatTicketNo(prefix string, month time.Month, seq int) string {
	return TicketNo{Prefix: prefix, Month: int(month), Seq: seq}.String()
}

// FormatPassTicketNo formats a number in the pass series.
func FormatPassTicketNo(prefix string, month time.Month, seq int) string {
	return TicketNo{Pass: true, Prefix: prefix, Month: int(month), Seq: seq}.String()
}

// ParseTicketNo splits a ticket number into its parts.
func ParseTicketNo(raw string) (TicketNo, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	var t TicketNo
	if strings.HasPrefix(s, PassPrefix+"-") {
		t.Pass = true
		s = strings.TrimPrefix(s, PassPrefix+"-")
	}
	parts := strings.Split(s, "-")
	if len(parts) < 3 {
		return TicketNo{}, fmt.Errorf("malformed ticket number %q", raw)
	}
	n := len(parts)
	month, err := strconv.Atoi(parts[n-2])
	if err != nil || month < 1 || month > 12 {
		return TicketNo{}, fmt.Errorf("malformed month in %q", raw)
	}
	seq, err := strconv.Atoi(parts[n-1])
	if err != nil || seq < 1 {
		return TicketNo{}, fmt.Errorf("malformed sequence in %q", raw)
	}
	t.Prefix = strings.Join(parts[:n-2], "-")
	if t.Prefix == "" {
		return TicketNo{}, fmt.Errorf("missing prefix in %q", raw)
	}
	t.Month = month
	t.Seq = seq
	return t, nil
}
