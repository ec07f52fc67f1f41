package recorder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// EventLogLevel selects which scraper frames are written to the event log.
type EventLogLevel string

const (
	EventLogAll     EventLogLevel = "all"     // raw, parsed, unknown and failed frames
	EventLogUnknown EventLogLevel = "unknown" // unknown and failed frames
	EventLogErrors  EventLogLevel = "errors"  // failed frames only
)

// Event log file names under <dir>/<scraperId>/.
const (
	RawLogFile     = "events-raw.log"
	ParsedLogFile  = "events-parsed.log"
	UnknownLogFile = "events-unknown.log"
	ErrorLogFile   = "events-error.log"
)

// EventLog appends scraper frames to per-kind log files. It implements scraper.FrameLog.
type EventLog struct {
	dir    string
	level  EventLogLevel
	logger *slog.Logger

	mu    sync.Mutex
	files map[string]*os.File
}

// NewEventLog logs frames of scraperID under root. Dev mode forces EventLogAll.
func NewEventLog(root, scraperID string, level EventLogLevel, dev bool, logger *slog.Logger) *EventLog {
	switch {
	case dev:
		level = EventLogAll
	case level == "":
		level = EventLogErrors
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{
		dir:    filepath.Join(root, scraperID),
		level:  level,
		logger: logger.With("component", "eventlog", "scraper", scraperID),
		files:  make(map[string]*os.File),
	}
}

func (l *EventLog) Raw(payload string) {
	if l.level == EventLogAll {
		l.write(RawLogFile, payload)
	}
}

func (l *EventLog) Parsed(v any) {
	if l.level != EventLogAll {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		l.logger.Warn("could not encode parsed event", "error", err)
		return
	}
	l.write(ParsedLogFile, string(data))
}

func (l *EventLog) Unknown(payload string) {
	if l.level == EventLogAll || l.level == EventLogUnknown {
		l.write(UnknownLogFile, payload)
	}
}

func (l *EventLog) Failed(err error, payload string) {
	l.write(ErrorLogFile, fmt.Sprintf("%v -- %s", err, payload))
}

func (l *EventLog) write(name, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open(name)
	if err != nil {
		l.logger.Warn("could not open event log", "file", name, "error", err)
		return
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		l.logger.Warn("could not write event log", "file", name, "error", err)
	}
}

func (l *EventLog) open(name string) (*os.File, error) {
	if f, ok := l.files[name]; ok {
		return f, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[name] = f
	return f, nil
}

// Close closes every open log file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	for name, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.files, name)
	}
	return first
}
