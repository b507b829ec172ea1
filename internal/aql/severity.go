package aql

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Severity is the defect classification recorded on each defect line.
type Severity string

const (
	SeverityMinor    Severity = "Nhẹ"
	SeverityMajor    Severity = "Nặng"
	SeverityCritical Severity = "Nghiêm trọng"
)

// ErrUnknownSeverity is returned by ParseSeverity for unrecognized input.
var ErrUnknownSeverity = errors.New("unknown severity")

// IsMajor reports whether the severity counts toward the major bucket.
// Critical defects are accepted against the major limit.
func (s Severity) IsMajor() bool {
	return s == SeverityMajor || s == SeverityCritical
}

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity maps user input to a Severity. Input is NFC-normalized and
// compared case-insensitively; accent-free spellings ("nhe", "nang",
// "nghiem trong") are accepted as well.
func ParseSeverity(raw string) (Severity, error) {
	s := strings.ToLower(strings.Join(strings.Fields(norm.NFC.String(raw)), " "))
	for _, sev := range []Severity{SeverityMinor, SeverityMajor, SeverityCritical} {
		if s == strings.ToLower(string(sev)) {
			return sev, nil
		}
	}
	switch Fold(s) {
	case "nhe", "minor":
		return SeverityMinor, nil
	case "nang", "major":
		return SeverityMajor, nil
	case "nghiem trong", "critical":
		return SeverityCritical, nil
	}
	return "", ErrUnknownSeverity
}

// Fold strips diacritics and lowercases s ("Nghiêm trọng" -> "nghiem trong").
// The Vietnamese đ/Đ has no decomposition and is mapped explicitly.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.NewReplacer("đ", "d", "Đ", "d").Replace(out)
	return strings.ToLower(out)
}

// Line is the minimal view of a defect line needed for tallying.
type Line struct {
	Severity Severity
	Quantity int
}

// Tally sums defect quantities into the major and minor buckets.
// Lines with a non-positive quantity are ignored.
func Tally(lines []Line) (major, minor int) {
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if l.Severity.IsMajor() {
			major += l.Quantity
		} else if l.Severity == SeverityMinor {
			minor += l.Quantity
		}
	}
	return major, minor
}
