package intercept

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// InstallTransport decorates rt so response observers see every completed response. A nil
// rt uses http.DefaultTransport. An already decorated transport is returned unchanged.
func (p *Port) InstallTransport(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if _, ok := rt.(installed); ok {
		return rt
	}
	return &observedTransport{base: rt, port: p}
}

// Client returns an http.Client whose transport is installed on p.
func (p *Port) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: p.InstallTransport(nil), Timeout: timeout}
}

type observedTransport struct {
	base http.RoundTripper
	port *Port
}

func (*observedTransport) interceptInstalled() {}

func (t *observedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.Body == nil {
		return resp, err
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{readErr}))
		return resp, nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	frame := RawFrame{
		TransportURL: req.URL.String(),
		Direction:    Receive,
		Payload:      body,
		CapturedAt:   time.Now(),
	}
	t.port.notifyResponse(req.Context(), frame, func() *http.Response {
		clone := *resp
		clone.Header = resp.Header.Clone()
		clone.Body = io.NopCloser(bytes.NewReader(body))
		return &clone
	})
	return resp, nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
