package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		format string
		args   []any
		want   string
	}{
		{"in order", "a {} b {}", []any{1, "two"}, "a 1 b two"},
		{"argument containing placeholder", "a {} b {}", []any{"{}", "x"}, "a {} b x"},
		{"missing argument keeps placeholder", "a {} b {}", []any{"x"}, "a x b {}"},
		{"extra argument ignored", "only {}", []any{"x", "y"}, "only x"},
		{"no placeholders", "plain", nil, "plain"},
		{"bytes", "frame {}", []any{[]byte("PING")}, "frame PING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.format, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatTrailingError(t *testing.T) {
	boom := errors.New("boom")

	msg, err := Format("decode {} failed", "frame", boom)
	if msg != "decode frame failed" {
		t.Fatalf("msg = %q", msg)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	msg, err = Format("decode failed: {}", boom)
	if err != nil {
		t.Fatalf("error consumed by placeholder should not be returned, got %v", err)
	}
	if msg != "decode failed: boom" {
		t.Fatalf("msg = %q", msg)
	}
}

func TestLoggerWritesScraperAndError(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace})), "twitch-chat")

	l.Warn("bad frame {}", "x", errors.New("eof"))

	out := buf.String()
	for _, want := range []string{"scraper=twitch-chat", "bad frame x", "error=eof", "level=WARN"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("TRACE") != LevelTrace {
		t.Fatal("trace")
	}
	if ParseLevel("") != slog.LevelInfo {
		t.Fatal("default should be info")
	}
	if ParseLevel("warning") != slog.LevelWarn {
		t.Fatal("warning")
	}
}
