// Package intercept decorates WebSocket dialers and HTTP transports so decoders can observe
// every frame and response without changing what the caller receives.
package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Direction of a captured frame.
type Direction int

const (
	Receive Direction = iota
	Send
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "receive"
}

// RawFrame is a payload captured at an interception point. It is handed to observers
// synchronously and not retained.
type RawFrame struct {
	TransportURL string
	Direction    Direction
	Payload      []byte
	CapturedAt   time.Time
}

// SocketInfo describes the socket a frame travelled on.
type SocketInfo struct {
	URL       string
	Protocols []string
}

// MessageObserver receives WebSocket frames.
type MessageObserver func(ctx context.Context, frame RawFrame, info SocketInfo) error

// ResponseObserver receives a clone of every completed HTTP response.
type ResponseObserver func(ctx context.Context, frame RawFrame, resp *http.Response) error

// Port holds the ordered observer lists shared by every transport installed through it.
type Port struct {
	logger *slog.Logger

	mu        sync.RWMutex
	messages  []MessageObserver
	sends     []MessageObserver
	responses []ResponseObserver
}

// NewPort creates an interception port.
func NewPort(logger *slog.Logger) *Port {
	if logger == nil {
		logger = slog.Default()
	}
	return &Port{logger: logger.With("component", "intercept")}
}

// RegisterMessageObserver appends an observer for incoming WebSocket frames.
func (p *Port) RegisterMessageObserver(o MessageObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, o)
}

// RegisterSendObserver appends an observer for outgoing WebSocket frames.
func (p *Port) RegisterSendObserver(o MessageObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, o)
}

// RegisterResponseObserver appends an observer for HTTP responses.
func (p *Port) RegisterResponseObserver(o ResponseObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, o)
}

func (p *Port) notifyFrame(ctx context.Context, frame RawFrame, info SocketInfo) {
	p.mu.RLock()
	observers := p.messages
	if frame.Direction == Send {
		observers = p.sends
	}
	p.mu.RUnlock()

	for i, o := range observers {
		p.call(frame, i, func() error { return o(ctx, frame, info) })
	}
}

func (p *Port) notifyResponse(ctx context.Context, frame RawFrame, clone func() *http.Response) {
	p.mu.RLock()
	observers := p.responses
	p.mu.RUnlock()

	for i, o := range observers {
		p.call(frame, i, func() error { return o(ctx, frame, clone()) })
	}
}

// call runs one observer, logging its error or panic instead of propagating it.
func (p *Port) call(frame RawFrame, index int, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("observer panicked",
				"url", frame.TransportURL,
				"direction", frame.Direction.String(),
				"observer", index,
				"panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		p.logger.Warn("observer failed",
			"url", frame.TransportURL,
			"direction", frame.Direction.String(),
			"observer", index,
			"error", err)
	}
}
