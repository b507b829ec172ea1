package sysutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetLogLevel_AllVariants(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		got := SetLogLevel(tc.in)
		if got != tc.want || zerolog.GlobalLevel() != tc.want {
			t.Fatalf("SetLogLevel(%q) -> %v (global %v); want %v", tc.in, got, zerolog.GlobalLevel(), tc.want)
		}
	}
}

func TestConfigureLogger_JSONAndPretty(t *testing.T) {
	origLevel, origLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(origLevel)
		log.Logger = origLogger
	})

	var buf bytes.Buffer
	ConfigureLogger("warn", false, &buf)
	log.Info().Msg("dropped")
	log.Warn().Str("ticket", "MAY-01-001").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one line at warn level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["message"] != "kept" || rec["ticket"] != "MAY-01-001" || rec["service"] != "ncr" || rec["time"] == nil {
		t.Fatalf("record=%v", rec)
	}

	buf.Reset()
	ConfigureLogger("info", true, &buf)
	log.Info().Msg("hello")
	if out := buf.String(); !strings.Contains(out, "hello") || strings.HasPrefix(out, "{") {
		t.Fatalf("pretty output=%q", out)
	}
}

func TestParseBool(t *testing.T) {
	trues := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	falses := []string{"0", "false", "no", "N", " off "}
	unknown := []string{"", "  ", "random", "2"}

	for _, v := range trues {
		if b, ok := ParseBool(v); !b || !ok {
			t.Fatalf("ParseBool(%q) = %v,%v; want true,true", v, b, ok)
		}
		if !IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = false", v)
		}
	}
	for _, v := range falses {
		if b, ok := ParseBool(v); b || !ok {
			t.Fatalf("ParseBool(%q) = %v,%v; want false,true", v, b, ok)
		}
		if IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = true", v)
		}
	}
	for _, v := range unknown {
		if _, ok := ParseBool(v); ok {
			t.Fatalf("ParseBool(%q) recognised", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("FirstNonEmpty() = %q", got)
	}
	if got := FirstNonEmpty(" ", "\t", "\n"); got != "" {
		t.Fatalf("FirstNonEmpty(blanks) = %q", got)
	}
	// original spacing is preserved
	if got := FirstNonEmpty("   ", "  hello  ", "world"); got != "  hello  " {
		t.Fatalf("FirstNonEmpty(...) = %q", got)
	}
}

func TestVersion(t *testing.T) {
	t.Setenv("APP_VERSION", "1.4.2")
	if got := Version(); got != "1.4.2" {
		t.Fatalf("Version() = %q", got)
	}
	t.Setenv("APP_VERSION", "")
	if got := Version(); got == "" {
		t.Fatal("Version() must never be empty")
	}
}
