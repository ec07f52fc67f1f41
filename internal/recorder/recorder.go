// Package recorder writes envelopes to rotating JSONL files and scraper frames to event logs.
package recorder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/event"
	"github.com/john/unichat/internal/host"
)

// Level selects which envelopes are recorded.
type Level string

const (
	LevelAll    Level = "all"    // lifecycle and content envelopes
	LevelEvents Level = "events" // content envelopes only
	LevelNone   Level = "none"
)

// FileTimeLayout is the timestamp suffix of every recording file name.
const FileTimeLayout = "20060102_150405"

// fileWriter manages a single JSONL file
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	buffer       []host.Envelope
	scraperID    string
	filename     string
}

// Options configure a Recorder.
type Options struct {
	OutputDir       string
	BufferSize      int
	RotateMinutes   int
	RotateMegabytes int
	Level           Level
	Clock           clock.Clock
	Logger          *slog.Logger
}

// Recorder buffers envelopes and writes one file per scraper.
type Recorder struct {
	outputDir   string
	bufferSize  int
	rotateAfter time.Duration
	rotateBytes int64
	level       Level
	clock       clock.Clock
	logger      *slog.Logger

	currentFiles map[string]*fileWriter // key: scraper id
	mu           sync.Mutex
}

func New(opts Options) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if opts.Level == "" {
		opts.Level = LevelEvents
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		outputDir:    opts.OutputDir,
		bufferSize:   opts.BufferSize,
		rotateAfter:  time.Duration(opts.RotateMinutes) * time.Minute,
		rotateBytes:  int64(opts.RotateMegabytes) * 1024 * 1024,
		level:        opts.Level,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "recorder"),
		currentFiles: make(map[string]*fileWriter),
	}
}

// Start records envelopes until ctx is cancelled or envs is closed. Closed files are sent
// on fileChan for upload.
func (r *Recorder) Start(ctx context.Context, envs <-chan host.Envelope, fileChan chan<- string) error {
	if r.level == LevelNone {
		r.logger.Info("recording disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := r.clock.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-envs:
			if !ok {
				r.Close(fileChan)
				return nil
			}
			if err := r.Record(env); err != nil {
				r.logger.Error("error recording envelope", "type", env.Type, "error", err)
			}

		case <-ticker.C:
			r.Rotate(fileChan)

		case <-ctx.Done():
			r.logger.Info("recorder shutting down, flushing buffers...")
			r.Close(fileChan)
			return ctx.Err()
		}
	}
}

// Wants reports whether env passes the recording level.
func (r *Recorder) Wants(env host.Envelope) bool {
	switch r.level {
	case LevelAll:
		return true
	case LevelEvents:
		return event.IsContent(env.Type)
	}
	return false
}

// Record buffers env, flushing the scraper's file when the buffer is full.
func (r *Recorder) Record(env host.Envelope) error {
	if !r.Wants(env) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fw := r.currentFiles[env.ScraperID]
	if fw == nil {
		var err error
		fw, err = r.createFileWriter(env.ScraperID)
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		r.currentFiles[env.ScraperID] = fw
	}

	fw.buffer = append(fw.buffer, env)
	if len(fw.buffer) >= r.bufferSize {
		if err := r.flushFileWriter(fw); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}
	return nil
}

func (r *Recorder) createFileWriter(scraperID string) (*fileWriter, error) {
	now := r.clock.Now()
	filename := fmt.Sprintf("%s_%s.jsonl", scraperID, now.UTC().Format(FileTimeLayout))
	path := filepath.Join(r.outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	r.logger.Info("created new log file", "file", filename)

	return &fileWriter{
		file:      file,
		writer:    bufio.NewWriter(file),
		createdAt: now,
		buffer:    make([]host.Envelope, 0, r.bufferSize),
		scraperID: scraperID,
		filename:  filename,
	}, nil
}

// flushFileWriter writes buffered envelopes to disk
func (r *Recorder) flushFileWriter(fw *fileWriter) error {
	for _, env := range fw.buffer {
		n, err := fw.writer.Write(env.Bytes())
		if err != nil {
			return fmt.Errorf("write envelope: %w", err)
		}
		fw.bytesWritten += int64(n)

		if err := fw.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
		fw.bytesWritten++
	}
	fw.buffer = fw.buffer[:0]
	return fw.writer.Flush()
}

// Rotate closes every file past its time or size limit and opens a fresh one.
func (r *Recorder) Rotate(fileChan chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for key, fw := range r.currentFiles {
		switch {
		case r.rotateAfter > 0 && now.Sub(fw.createdAt) >= r.rotateAfter:
			r.logger.Info("rotating file (time limit)", "file", fw.filename)
		case r.rotateBytes > 0 && fw.bytesWritten >= r.rotateBytes:
			r.logger.Info("rotating file (size limit)", "file", fw.filename)
		default:
			continue
		}

		r.closeFileWriter(fw, fileChan)
		next, err := r.createFileWriter(fw.scraperID)
		if err != nil {
			r.logger.Error("error creating new file writer", "error", err)
			delete(r.currentFiles, key)
			continue
		}
		r.currentFiles[key] = next
	}
}

// Close flushes and closes every file.
func (r *Recorder) Close(fileChan chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fw := range r.currentFiles {
		r.closeFileWriter(fw, fileChan)
		delete(r.currentFiles, key)
	}
	r.logger.Info("all files flushed and closed")
}

func (r *Recorder) closeFileWriter(fw *fileWriter, fileChan chan<- string) {
	if err := r.flushFileWriter(fw); err != nil {
		r.logger.Error("error flushing file writer", "file", fw.filename, "error", err)
	}
	if err := fw.file.Close(); err != nil {
		r.logger.Error("error closing file", "file", fw.filename, "error", err)
	}

	path := filepath.Join(r.outputDir, fw.filename)
	select {
	case fileChan <- path:
		r.logger.Info("queued file for upload", "file", fw.filename)
	default:
		r.logger.Warn("upload queue full, file will be uploaded on next start", "file", fw.filename)
	}
}
