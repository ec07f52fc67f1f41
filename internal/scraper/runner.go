// Package scraper runs the idle/initializing/ready/fatal lifecycle shared by every platform.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/host"
	"github.com/john/unichat/internal/logging"
)

// State of a Runner.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateFatal        State = "fatal"
)

// DefaultInterval between idle and ping emissions.
const DefaultInterval = 5 * time.Second

// ErrUnsupportedPage is returned by platforms asked to attach to a page they cannot handle.
var ErrUnsupportedPage = errors.New("unsupported page")

// Platform is a platform scraper driven by a Runner.
type Platform interface {
	ID() string
	// Init attaches to target and blocks until the platform is ready. The returned fields are
	// merged into the ready envelope. Background work must stop when ctx is cancelled.
	Init(ctx context.Context, target string) (map[string]any, error)
}

// Stopper is implemented by platforms whose ingestion can end after Init succeeded, such as
// a live chat that closes. A value on Done moves the runner to fatal.
type Stopper interface {
	Done() <-chan error
}

// Options configure a Runner.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Runner drives a Platform through its lifecycle and emits lifecycle envelopes.
type Runner struct {
	platform   Platform
	dispatcher *host.Dispatcher
	clock      clock.Clock
	interval   time.Duration
	logger     *logging.Logger

	mu    sync.Mutex
	state State
}

// NewRunner creates a Runner in the idle state.
func NewRunner(p Platform, d *host.Dispatcher, opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Runner{
		platform:   p,
		dispatcher: d,
		clock:      opts.Clock,
		interval:   opts.Interval,
		logger:     logging.New(opts.Logger, p.ID()),
		state:      StateIdle,
	}
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	if prev != s {
		r.logger.Debug("state {} -> {}", prev, s)
	}
}

// Run attaches to target and blocks until ctx is cancelled or initialization fails. A
// neutral target keeps the runner idle. A failed initialization emits one fatal envelope
// and returns; calling Run again restarts from scratch.
func (r *Runner) Run(ctx context.Context, target string) error {
	if IsNeutral(target) {
		r.setState(StateIdle)
		r.logger.Info("no platform page, staying idle")
		return r.emitEvery(ctx, host.TypeIdle, nil)
	}

	r.setState(StateInitializing)
	r.logger.Info("initializing on {}", target)

	fields, err := r.platform.Init(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.setState(StateFatal)
		r.logger.Error("initialization failed", err)
		r.dispatch(ctx, host.TypeFatal, Failure(err))
		return fmt.Errorf("initialize %s: %w", r.platform.ID(), err)
	}

	ready := map[string]any{"url": target}
	for k, v := range fields {
		ready[k] = v
	}
	r.setState(StateReady)
	r.dispatch(ctx, host.TypeReady, ready)
	r.logger.Info("ready")

	var stopped <-chan error
	if s, ok := r.platform.(Stopper); ok {
		stopped = s.Done()
	}
	if err := r.emitEvery(ctx, host.TypePing, stopped); ctx.Err() == nil {
		r.setState(StateFatal)
		r.logger.Error("platform stopped", err)
		r.dispatch(ctx, host.TypeFatal, Failure(err))
		return fmt.Errorf("run %s: %w", r.platform.ID(), err)
	}
	return ctx.Err()
}

// ReportError emits a recoverable error envelope. The state is unchanged.
func (r *Runner) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("recoverable error", err)
	r.dispatch(ctx, host.TypeError, Failure(err))
}

// emitEvery dispatches typ on every tick until ctx is done or stopped delivers. A nil
// stopped channel never fires.
func (r *Runner) emitEvery(ctx context.Context, typ string, stopped <-chan error) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.dispatch(ctx, typ, nil)
		case err := <-stopped:
			if err == nil {
				err = errors.New("platform stopped")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, typ string, payload any) {
	if err := r.dispatcher.Dispatch(ctx, typ, payload); err != nil {
		r.logger.Error("dispatch {} failed", typ, err)
	}
}

// FailurePayload is the body of error and fatal envelopes.
type FailurePayload struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Failure renders err and its wrapped causes.
func Failure(err error) FailurePayload {
	var causes []string
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		causes = append(causes, e.Error())
	}
	return FailurePayload{
		Message: err.Error(),
		Stack:   strings.Join(causes, "\n"),
	}
}

// IsNeutral reports whether target is a blank page no platform can attach to.
func IsNeutral(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" || target == "about:blank" {
		return true
	}
	u, err := url.Parse(target)
	if err != nil {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return true
	}
	return u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1"
}
