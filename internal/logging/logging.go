// Package logging holds the process slog setup and the placeholder logger used by scrapers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace sits below debug for per-frame output.
const LevelTrace = slog.LevelDebug - 4

// NewSlog builds the process logger. format is "json" or "text".
func NewSlog(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger formats messages with {} placeholders and writes them to slog.
type Logger struct {
	base *slog.Logger
}

// New returns a Logger whose records carry the scraper id.
func New(base *slog.Logger, scraperID string) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{base: base.With("scraper", scraperID)}
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger { return l.base }

func (l *Logger) Trace(format string, args ...any) { l.log(LevelTrace, format, args) }
func (l *Logger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args) }
func (l *Logger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args) }
func (l *Logger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args) }
func (l *Logger) Error(format string, args ...any) { l.log(slog.LevelError, format, args) }

func (l *Logger) log(level slog.Level, format string, args []any) {
	ctx := context.Background()
	if !l.base.Enabled(ctx, level) {
		return
	}
	msg, err := Format(format, args...)
	if err != nil {
		l.base.Log(ctx, level, msg, "error", err)
		return
	}
	l.base.Log(ctx, level, msg)
}

// Format substitutes args into each {} of format, in order. Inserted text is never
// rescanned, so an argument containing {} cannot consume a later argument. When the last
// argument is an error that no placeholder consumed, it is returned instead of printed.
func Format(format string, args ...any) (string, error) {
	var throwable error
	if n := len(args); n > 0 && n > strings.Count(format, "{}") {
		if err, ok := args[n-1].(error); ok {
			throwable = err
			args = args[:n-1]
		}
	}

	var b strings.Builder
	rest := format
	for _, arg := range args {
		i := strings.Index(rest, "{}")
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		b.WriteString(stringify(arg))
		rest = rest[i+2:]
	}
	b.WriteString(rest)
	return b.String(), throwable
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
