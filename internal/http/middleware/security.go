// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders: hardening headers for a JSON API that
// sits behind a reverse proxy, plus the cache posture of ticket data.
// Reads default to "private, no-cache" so browsers keep a copy but always
// revalidate it with the ETag; writes default to "no-store". A handler that
// sets its own Cache-Control (the static AQL table does) wins.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	cacheRevalidate = "private, no-cache"
	cacheNoStore    = "no-store"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // set true only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // 180 days when zero
	EnablePolicy bool          // Permissions-Policy and X-Permitted-Cross-Domain-Policies

	// ExposeHeaders lists response headers browsers may read. Defaults to
	// X-Request-ID; the router adds ETag and Idempotency-Replayed.
	ExposeHeaders []string
}

// SecurityHeaders adds, on every response:
//
//   - X-Content-Type-Options, X-Frame-Options, Referrer-Policy
//   - Permissions-Policy and X-Permitted-Cross-Domain-Policies (EnablePolicy)
//   - Strict-Transport-Security on HTTPS requests (EnableHSTS)
//   - Cache-Control by method unless the handler set one
//   - Access-Control-Expose-Headers for ExposeHeaders
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"
	expose := opt.ExposeHeaders
	if len(expose) == 0 {
		expose = []string{requestIDHeader}
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		const hdr = "Access-Control-Expose-Headers"
		for _, name := range expose {
			if name == requestIDHeader && h.Get(requestIDHeader) == "" {
				continue
			}
			cur := h.Get(hdr)
			switch {
			case cur == "":
				h.Set(hdr, name)
			case !strings.Contains(cur, name):
				h.Set(hdr, cur+", "+name)
			}
		}

		// Set before the handler so c.Header in the handler overrides it.
		h.Set("Cache-Control", cachePolicy(c.Request.Method))
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			h.Set("Pragma", "no-cache")
		}

		c.Next()
	}
}

func cachePolicy(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return cacheRevalidate
	}
	return cacheNoStore
}

// isHTTPS reports whether the request arrived over TLS, directly or through a
// proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
