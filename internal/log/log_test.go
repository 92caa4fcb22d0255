package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitTo(t *testing.T) {
	t.Setenv("GO_ENV", "")
	var buf bytes.Buffer
	InitTo(&buf, "warn")
	defer Init("info")

	Info("hidden")
	For("stream").Warn("shown", "client", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line logged at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "component=stream") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestNew_JSONInProduction(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	var buf bytes.Buffer
	New(&buf, "info").Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON, got %q", buf.String())
	}
}
