package intercept

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn used by the platform clients.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// WebSocketDialer opens WebSocket connections.
type WebSocketDialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error)
}

// FromGorilla adapts a gorilla dialer. A nil dialer uses websocket.DefaultDialer.
func FromGorilla(d *websocket.Dialer) WebSocketDialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return gorillaDialer{d: d}
}

type gorillaDialer struct {
	d *websocket.Dialer
}

func (g gorillaDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := g.d.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// installed marks decorators created by a Port.
type installed interface {
	interceptInstalled()
}

// InstallDialer decorates d. A dialer that is already decorated is returned unchanged, so
// installing twice still yields one observer call per frame.
func (p *Port) InstallDialer(d WebSocketDialer) WebSocketDialer {
	if _, ok := d.(installed); ok {
		return d
	}
	return &observedDialer{base: d, port: p}
}

type observedDialer struct {
	base WebSocketDialer
	port *Port
}

func (*observedDialer) interceptInstalled() {}

func (d *observedDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := d.base.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	if _, ok := conn.(installed); ok {
		return conn, resp, nil
	}
	info := SocketInfo{URL: urlStr, Protocols: header.Values("Sec-WebSocket-Protocol")}
	return &observedConn{Conn: conn, port: d.port, ctx: context.WithoutCancel(ctx), info: info}, resp, nil
}

type observedConn struct {
	Conn
	port *Port
	ctx  context.Context
	info SocketInfo
}

func (*observedConn) interceptInstalled() {}

// ReadMessage notifies message observers after each successful read.
func (c *observedConn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.Conn.ReadMessage()
	if err == nil && (mt == websocket.TextMessage || mt == websocket.BinaryMessage) {
		c.port.notifyFrame(c.ctx, RawFrame{
			TransportURL: c.info.URL,
			Direction:    Receive,
			Payload:      data,
			CapturedAt:   time.Now(),
		}, c.info)
	}
	return mt, data, err
}

// WriteMessage notifies send observers, then writes.
func (c *observedConn) WriteMessage(mt int, data []byte) error {
	if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
		c.port.notifyFrame(c.ctx, RawFrame{
			TransportURL: c.info.URL,
			Direction:    Send,
			Payload:      data,
			CapturedAt:   time.Now(),
		}, c.info)
	}
	return c.Conn.WriteMessage(mt, data)
}

// Inject feeds a frame received over some other transport (e.g. a TCP IRC client) through
// the message observers as if it arrived on a socket at url.
func (p *Port) Inject(ctx context.Context, url string, payload []byte) {
	p.notifyFrame(ctx, RawFrame{
		TransportURL: url,
		Direction:    Receive,
		Payload:      payload,
		CapturedAt:   time.Now(),
	}, SocketInfo{URL: url})
}
