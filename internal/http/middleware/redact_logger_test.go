package middleware

import (
	"net/http"
	"testing"
)

func TestRedactor_String(t *testing.T) {
	r := NewRedactor(RedactOptions{})
	cases := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"ticket numbers pass", "status=draft&q=FI-01-01", "status=draft&q=FI-01-01"},
		{"pass series pass", "q=PASS-KHO-12-03", "q=PASS-KHO-12-03"},
		{"email", "created_by=an@example.com", "created_by=[REDACTED:email]"},
		{"phone", "phone=0912345678", "phone=[REDACTED:phone]"},
		{"uuid", "dnxl=123e4567-e89b-12d3-a456-426614174000", "dnxl=[REDACTED:id]"},
		{"token param", "access_token=abc.def&page=2", "access_token=[REDACTED]&page=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.String(tc.in); got != tc.want {
				t.Fatalf("String(%q) = %q; want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRedactor_Headers(t *testing.T) {
	r := NewRedactor(RedactOptions{MaskHeaders: []string{" X-Session ", ""}})
	h := http.Header{}
	h.Set("Authorization", "Bearer t0ken")
	h.Set("Cookie", "sid=1")
	h.Set("X-Api-Key", "k")
	h.Set("X-Session", "s")
	h.Set("X-User-Name", "an@example.com")
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/plain")

	got := r.Headers(h)
	for _, k := range []string{"Authorization", "Cookie", "X-Api-Key", "X-Session"} {
		if got[k] != "[REDACTED]" {
			t.Fatalf("%s = %q; want masked", k, got[k])
		}
	}
	if got["X-User-Name"] != "[REDACTED:email]" {
		t.Fatalf("X-User-Name = %q", got["X-User-Name"])
	}
	if got["Accept"] != "application/json, text/plain" {
		t.Fatalf("Accept = %q", got["Accept"])
	}
}
