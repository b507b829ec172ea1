// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation, the structured access log and panic
// recovery. Recommended order:
//
//  1. RequestID()
//  2. Logger()
//  3. Recovery()
//
// Logger attaches a request-scoped zerolog.Logger both to the Gin context
// (LoggerFrom) and to the request context.Context, so services log with
// zerolog.Ctx(ctx) and inherit the request id. Query strings and headers are
// scrubbed through a Redactor before they reach the log.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey      = "requestID"
	requestIDHeader   = "X-Request-ID"
	loggerKey         = "logger"
	maxQueryLogLength = 2048
)

// RequestID reuses the caller's X-Request-ID or generates a UUID, and echoes
// it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger writes one access log line per request. Level follows the outcome:
// error for 5xx or collected gin errors, warn for 4xx, info otherwise. The
// caller is read after the handler chain so identities resolved by later
// middleware are included.
func Logger(opts RedactOptions) gin.HandlerFunc {
	red := NewRedactor(opts)
	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(red.String(c.Request.URL.RawQuery), maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		lc := l.With()
		if id, ok := IdentityFrom(c); ok {
			lc = lc.Str("user", id.Name).Str("role", id.Role).Str("department", id.Department)
		}
		// ticket number or DNXL id of the route, if any
		if target := c.Param("id"); target != "" {
			lc = lc.Str("target", target)
		}
		status := c.Writer.Status()
		ev := lc.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Bool("replay", IsReplay(c)).
			Interface("headers", red.Headers(c.Request.Header)).
			Logger()

		e := ev.WithLevel(accessLevel(status, len(c.Errors) > 0))
		if len(c.Errors) > 0 {
			e = e.Str("errors", c.Errors.String())
		}
		e.Msg("request")
	}
}

func accessLevel(status int, failed bool) zerolog.Level {
	switch {
	case failed || status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}

// Recovery turns a panic into a JSON 500 carrying the request id, unless a
// response was already started.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// truncate caps s at max bytes; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
