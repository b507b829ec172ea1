// Package sysutil holds process-level helpers shared by the server binary
// and the config loader: logger setup, boolean env parsing and the build
// version reported to tracing.
package sysutil

import (
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
// Anything else selects info. The applied level is returned.
func SetLogLevel(lvl string) zerolog.Level {
	level := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	case "panic":
		level = zerolog.PanicLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// ConfigureLogger sets the level and replaces the global logger. Pretty
// output goes through a console writer for local runs; otherwise lines are
// JSON on w (stdout when nil).
func ConfigureLogger(level string, pretty bool, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", "ncr").Logger()
}

// ParseBool reads an env-style flag. ok is false when v is neither a
// recognised true value ("1", "true", "yes", "y", "on") nor a false one
// ("0", "false", "no", "n", "off").
func ParseBool(v string) (val, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

// IsTruthy reports whether v is one of the recognised true values.
func IsTruthy(v string) bool {
	b, ok := ParseBool(v)
	return ok && b
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Version is APP_VERSION when set, then the main module version stamped by
// the Go toolchain, then "dev".
func Version() string {
	var built string
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "(devel)" {
		built = bi.Main.Version
	}
	return FirstNonEmpty(os.Getenv("APP_VERSION"), built, "dev")
}
