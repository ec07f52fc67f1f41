package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/john/unichat/internal/clock"
)

// ErrTimeout is returned by Await when the timeout wins.
var ErrTimeout = errors.New("timed out waiting for signal")

// Await returns the first value received on signal, or ErrTimeout once timeout elapses,
// whichever comes first. The timer is stopped as soon as the signal wins. A closed signal
// channel counts as a failure.
func Await[T any](ctx context.Context, clk clock.Clock, signal <-chan T, timeout time.Duration) (T, error) {
	var zero T

	select {
	case v, ok := <-signal:
		if !ok {
			return zero, errors.New("signal closed")
		}
		return v, nil
	default:
	}

	timer := clk.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok := <-signal:
		if !ok {
			return zero, errors.New("signal closed")
		}
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Signal is a value that resolves at most once. Later Resolve calls are ignored.
type Signal[T any] struct {
	ch   chan T
	once sync.Once
}

// NewSignal creates an unresolved signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{ch: make(chan T, 1)}
}

// Resolve stores v if the signal is still unresolved and reports whether it did.
func (s *Signal[T]) Resolve(v T) (resolved bool) {
	s.once.Do(func() {
		s.ch <- v
		resolved = true
	})
	return resolved
}

// C is read by Await.
func (s *Signal[T]) C() <-chan T { return s.ch }
