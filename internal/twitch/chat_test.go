package twitch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/logging"
)

// flakyDialer fails the first dial, then hands out conn.
type flakyDialer struct {
	mu    sync.Mutex
	dials int
	conn  *blockingConn
}

func (d *flakyDialer) DialContext(context.Context, string, http.Header) (intercept.Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials == 1 {
		return nil, nil, errors.New("connection refused")
	}
	return d.conn, nil, nil
}

func (d *flakyDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func TestReconnectBackoff(t *testing.T) {
	tests := map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		4:  16 * time.Second,
		5:  maxBackoff,
		12: maxBackoff,
	}
	for attempt, want := range tests {
		if got := reconnectBackoff(attempt); got != want {
			t.Errorf("reconnectBackoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestWebSocketChatReconnectsOnClock(t *testing.T) {
	conn := newBlockingConn()
	dialer := &flakyDialer{conn: conn}
	clk := clock.Fake(time.Unix(0, 0))
	logger := logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)), ScraperID)
	chat := NewWebSocketChat(dialer, clk, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- chat.Run(ctx, "Streamer") }()

	clk.WaitForTimers(1)
	if n := dialer.count(); n != 1 {
		t.Fatalf("dials before backoff elapsed = %d, want 1", n)
	}
	clk.Advance(time.Second)

	var joined string
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(5 * time.Millisecond) {
		conn.mu.Lock()
		joined = strings.Join(conn.written, "\n")
		conn.mu.Unlock()
		if strings.Contains(joined, "JOIN #streamer") {
			break
		}
	}
	if !strings.Contains(joined, "JOIN #streamer") {
		t.Fatalf("second session did not join, writes = %q", joined)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
