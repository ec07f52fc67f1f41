package intercept

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeConn struct {
	mu      sync.Mutex
	inbound [][]byte
	written [][]byte
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return 0, nil, io.EOF
	}
	next := c.inbound[0]
	c.inbound = c.inbound[1:]
	return websocket.TextMessage, next, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) Close() error                    { return nil }

type fakeDialer struct{ conn *fakeConn }

func (d fakeDialer) DialContext(context.Context, string, http.Header) (Conn, *http.Response, error) {
	return d.conn, nil, nil
}

func newTestPort() *Port {
	return NewPort(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInstallDialerTwiceDispatchesOncePerFrame(t *testing.T) {
	port := newTestPort()
	var received []string
	port.RegisterMessageObserver(func(_ context.Context, f RawFrame, info SocketInfo) error {
		if f.Direction != Receive {
			t.Errorf("direction = %v", f.Direction)
		}
		if info.URL != "wss://example.test/ws" {
			t.Errorf("url = %q", info.URL)
		}
		received = append(received, string(f.Payload))
		return nil
	})

	base := fakeDialer{conn: &fakeConn{inbound: [][]byte{[]byte("one"), []byte("two")}}}
	once := port.InstallDialer(base)
	twice := port.InstallDialer(once)
	if once != twice {
		t.Fatal("second install wrapped again")
	}

	conn, _, err := twice.DialContext(context.Background(), "wss://example.test/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	if len(received) != 2 || received[0] != "one" || received[1] != "two" {
		t.Fatalf("received = %q, want [one two]", received)
	}
}

func TestSendObserverSeesWrites(t *testing.T) {
	port := newTestPort()
	var sent []string
	port.RegisterSendObserver(func(_ context.Context, f RawFrame, _ SocketInfo) error {
		sent = append(sent, string(f.Payload))
		return nil
	})
	port.RegisterMessageObserver(func(context.Context, RawFrame, SocketInfo) error {
		t.Error("message observer called for a send")
		return nil
	})

	fc := &fakeConn{}
	conn, _, err := port.InstallDialer(fakeDialer{conn: fc}).DialContext(context.Background(), "wss://example.test", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if len(sent) != 1 || sent[0] != `{"type":"subscribe"}` {
		t.Fatalf("sent = %q", sent)
	}
	if len(fc.written) != 1 {
		t.Fatalf("underlying conn got %d writes, want 1", len(fc.written))
	}
}

func TestObserverFailuresDoNotBreakTransport(t *testing.T) {
	port := newTestPort()
	var calls []string
	port.RegisterMessageObserver(func(context.Context, RawFrame, SocketInfo) error {
		calls = append(calls, "panic")
		panic("decoder bug")
	})
	port.RegisterMessageObserver(func(context.Context, RawFrame, SocketInfo) error {
		calls = append(calls, "error")
		return errors.New("bad frame")
	})
	port.RegisterMessageObserver(func(context.Context, RawFrame, SocketInfo) error {
		calls = append(calls, "ok")
		return nil
	})

	conn, _, _ := port.InstallDialer(fakeDialer{conn: &fakeConn{inbound: [][]byte{[]byte("x")}}}).
		DialContext(context.Background(), "wss://example.test", nil)
	_, data, err := conn.ReadMessage()
	if err != nil || string(data) != "x" {
		t.Fatalf("ReadMessage = %q, %v", data, err)
	}
	if len(calls) != 3 || calls[0] != "panic" || calls[1] != "error" || calls[2] != "ok" {
		t.Fatalf("observer order = %v", calls)
	}
}

func TestTransportObserverGetsCloneAndCallerKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"data":{}}]`))
	}))
	defer srv.Close()

	port := newTestPort()
	var seen []string
	port.RegisterResponseObserver(func(_ context.Context, f RawFrame, resp *http.Response) error {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		seen = append(seen, string(body))
		if string(f.Payload) != string(body) {
			t.Errorf("frame payload %q != clone body %q", f.Payload, body)
		}
		resp.Header.Set("X-Mutated", "1")
		return nil
	})

	client := &http.Client{Transport: port.InstallTransport(port.InstallTransport(nil))}
	resp, err := client.Get(srv.URL + "/gql")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != `[{"data":{}}]` {
		t.Fatalf("caller body = %q", body)
	}
	if len(seen) != 1 || seen[0] != string(body) {
		t.Fatalf("observer saw %q", seen)
	}
	if resp.Header.Get("X-Mutated") != "" {
		t.Fatal("observer mutation leaked into caller response")
	}
}

func TestInjectUsesMessageObservers(t *testing.T) {
	port := newTestPort()
	var got RawFrame
	port.RegisterMessageObserver(func(_ context.Context, f RawFrame, _ SocketInfo) error {
		got = f
		return nil
	})

	port.Inject(context.Background(), "irc://irc.chat.twitch.tv:6697", []byte("PING :tmi.twitch.tv"))

	if got.TransportURL != "irc://irc.chat.twitch.tv:6697" || string(got.Payload) != "PING :tmi.twitch.tv" {
		t.Fatalf("frame = %+v", got)
	}
	if got.CapturedAt.IsZero() {
		t.Fatal("CapturedAt not set")
	}
}
