package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/john/unichat/internal/clock"
)

type captureSink struct {
	mu   sync.Mutex
	envs []Envelope
}

func (s *captureSink) Publish(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func TestNewEnvelopeFlattensPayload(t *testing.T) {
	env, err := NewEnvelope("ready", "twitch-chat", 1000, map[string]any{"channelId": "123", "url": "https://www.twitch.tv/x"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(env.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "ready" || m["scraperId"] != "twitch-chat" || m["channelId"] != "123" {
		t.Fatalf("envelope = %s", env.Bytes())
	}
	if m["timestamp"] != float64(1000) {
		t.Fatalf("timestamp = %v", m["timestamp"])
	}
}

func TestNewEnvelopeKeepsPayloadTimestamp(t *testing.T) {
	env, err := NewEnvelope("message", "youtube-chat", 5, struct {
		Timestamp int64 `json:"timestamp"`
	}{Timestamp: 42})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Timestamp != 42 {
		t.Fatalf("timestamp = %d, want 42", env.Timestamp)
	}
}

func TestNewEnvelopeRejectsEmptyType(t *testing.T) {
	for _, typ := range []string{"", "   "} {
		if _, err := NewEnvelope(typ, "x", 0, nil); !errors.Is(err, ErrEmptyType) {
			t.Fatalf("NewEnvelope(%q) err = %v", typ, err)
		}
	}
	if _, err := NewEnvelope("message", "x", 0, []int{1}); err == nil {
		t.Fatal("non-object payload accepted")
	}
}

func TestDispatcherStampsScraperAndClock(t *testing.T) {
	sink := &captureSink{}
	clk := clock.Fake(time.UnixMilli(1700000000123))
	d := NewDispatcher("kick-chat", sink, clk)

	if err := d.Dispatch(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), "", nil); !errors.Is(err, ErrEmptyType) {
		t.Fatalf("empty type err = %v", err)
	}

	if len(sink.envs) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(sink.envs))
	}
	got := sink.envs[0]
	if got.ScraperID != "kick-chat" || got.Timestamp != 1700000000123 || got.String("type") != "ping" {
		t.Fatalf("envelope = %s", got.Bytes())
	}
}

func TestDispatchNilPayloads(t *testing.T) {
	var nilStruct *struct {
		ChannelID string `json:"channelId"`
	}
	payloads := map[string]any{
		"nil map":     map[string]any(nil),
		"nil pointer": nilStruct,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			sink := &captureSink{}
			d := NewDispatcher("twitch-chat", sink, clock.Fake(time.UnixMilli(5)))
			if err := d.Dispatch(context.Background(), "ready", payload); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if len(sink.envs) != 1 {
				t.Fatalf("published %d envelopes, want 1", len(sink.envs))
			}
			got := sink.envs[0]
			if got.Type != "ready" || got.String("scraperId") != "twitch-chat" || got.Timestamp != 5 {
				t.Fatalf("envelope = %s", got.Bytes())
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"message","scraperId":"twitch-chat","timestamp":7,"messageId":"m1"}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != "message" || env.String("messageId") != "m1" {
		t.Fatalf("env = %+v", env)
	}
	if _, err := DecodeEnvelope([]byte(`{"scraperId":"x"}`)); !errors.Is(err, ErrEmptyType) {
		t.Fatalf("missing type err = %v", err)
	}
}

func TestBusRoundTrip(t *testing.T) {
	bus := NewBus(16, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	d := NewDispatcher("youtube-chat", bus, nil)
	if err := d.Dispatch(ctx, "idle", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case env := <-envs:
		if env.Type != "idle" || env.ScraperID != "youtube-chat" {
			t.Fatalf("env = %s", env.Bytes())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}
}

func TestStaticCommands(t *testing.T) {
	cmds := StaticCommands{Dev: true, URLs: map[string]string{"twitch-chat": "https://www.twitch.tv/popout/x/chat"}}
	ctx := context.Background()

	if dev, _ := cmds.IsDev(ctx); !dev {
		t.Fatal("IsDev = false")
	}
	if u, err := cmds.URL(ctx, "twitch-chat"); err != nil || u == "" {
		t.Fatalf("URL = %q, %v", u, err)
	}
	if _, err := cmds.URL(ctx, "youtube-chat"); err == nil {
		t.Fatal("missing url should error")
	}
}
