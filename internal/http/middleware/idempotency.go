// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotent retries for mutating requests. A client that
// sends the same Idempotency-Key for the same caller and target gets the
// recorded response back instead of a second execution. Without this a
// retried approval would fail as stale even though the first attempt
// succeeded.
//
// Records are keyed by (user, scope, key). The scope is the ticket number or
// DNXL id in the path, or the route itself for collection endpoints such as
// POST /tickets. Persistence stays outside the package behind two function
// types so the middleware has no storage dependency.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed marks a response served from a stored record.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// StoredResponse is a previously recorded outcome.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyLookup returns a still-valid record for (userID, scope, key).
// found=false with a nil error means nothing was recorded.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (resp StoredResponse, found bool, err error)

// IdempotencyRecorder persists the outcome of a request for later replay.
type IdempotencyRecorder func(ctx context.Context, userID, scope, key string, resp StoredResponse) error

// IdempotencyOptions configures header validation and recording.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 128.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Lookup and Record may be nil, which only validates the header.
	Lookup IdempotencyLookup
	Record IdempotencyRecorder
}

// GetIdempotencyKey returns the validated key stored by Idempotency.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the response was served from a stored record.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Idempotency validates the Idempotency-Key header on POST requests and
// replays or records responses.
//
//   - No header, not a POST, or no resolved caller: pass through.
//   - Malformed key: 400 bad_idempotency_key.
//   - Stored record: written back with Idempotency-Replayed: true and the
//     handler is skipped. Rate limiting is bypassed for the replay.
//   - Otherwise the handler runs and a 2xx or 409 outcome is recorded. Other
//     failures are not recorded so a corrected retry runs again.
func Idempotency(opts IdempotencyOptions) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 128
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		id, ok := IdentityFrom(c)
		if !ok {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		scope := idempotencyScope(c)

		if opts.Lookup != nil {
			prev, found, err := opts.Lookup(ctx, id.Name, scope, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
			}
			if found {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
				c.Header(HeaderIdempotencyReplayed, "true")
				c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
				c.Abort()
				return
			}
		}

		if opts.Record == nil {
			c.Next()
			return
		}
		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if !replayable(status) {
			return
		}
		resp := StoredResponse{Status: status, Body: rec.buf.Bytes()}
		if err := opts.Record(ctx, id.Name, scope, key, resp); err != nil {
			LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency record failed")
		}
	}
}

// replayable reports whether a response with status is stored. A 409 is
// kept since repeating it would report a conflict the first attempt caused.
func replayable(status int) bool {
	return (status >= http.StatusOK && status < http.StatusMultipleChoices) || status == http.StatusConflict
}

// idempotencyScope is the path id when the route has one, else the route.
func idempotencyScope(c *gin.Context) string {
	if id := strings.TrimSpace(c.Param("id")); id != "" {
		return strings.ToUpper(id) + ":" + routeTail(c)
	}
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// routeTail is the last route segment ("approve", "claim", ...) so different
// actions on one ticket never share a record.
func routeTail(c *gin.Context) string {
	p := c.FullPath()
	if p == "" {
		p = c.Request.URL.Path
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// recordingWriter tees the response body so it can be stored.
type recordingWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
