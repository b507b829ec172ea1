// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Redactor the access log runs request metadata through.
// Bodies are never logged. Identifiers that look like e-mail addresses or
// phone numbers are replaced, and credential headers are masked entirely.
// Ticket numbers (FI-01-01) are operational data and pass through untouched.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// RedactOptions configures extra scrubbing.
type RedactOptions struct {
	// MaskHeaders are masked in addition to Authorization, Cookie,
	// Set-Cookie and X-API-Key. Matching is case-insensitive.
	MaskHeaders []string
}

// Redactor scrubs strings and header sets. Safe for concurrent use.
type Redactor struct {
	mask map[string]struct{}
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex ids and ticket numbers never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
	// access_token / token query parameters.
	tokenParamRE = regexp.MustCompile(`(?i)\b((?:access_)?token)=[^&]*`)
)

// NewRedactor builds a Redactor from opts.
func NewRedactor(opts RedactOptions) *Redactor {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-api-key":     {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}
	return &Redactor{mask: mask}
}

// String scrubs e-mail addresses, phone numbers and token parameters. UUIDs
// are collapsed first so their digit runs never read as phone numbers.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = tokenParamRE.ReplaceAllString(s, "$1=[REDACTED]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Headers flattens h, masking credential headers and scrubbing the rest.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.String(strings.Join(vv, ", "))
	}
	return out
}
