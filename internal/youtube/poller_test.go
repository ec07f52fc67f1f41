package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/john/unichat/internal/logging"
)

func livePage(token string) string {
	return `<!DOCTYPE html><html><head><script>ytcfg.set({"INNERTUBE_API_KEY":"test-key","INNERTUBE_CONTEXT_CLIENT_VERSION":"2.20240501.00.00"});</script>
<script>window["ytInitialData"] = {"contents":{"liveChatRenderer":{
  "continuations":[{"timedContinuationData":{"continuation":"` + token + `","timeoutMs":5000}}],
  "header":{"liveChatHeaderRenderer":{"viewSelector":{"sortFilterSubMenuRenderer":{"subMenuItems":[
    {"title":"Top chat","continuation":{"reloadContinuationData":{"continuation":"top-chat"}}},
    {"title":"Live chat","continuation":{"reloadContinuationData":{"continuation":"live-chat"}}}
  ]}}}}}}};</script></head><body></body></html>`
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage([]byte(livePage(continuationFor(testChannelID))))
	if err != nil {
		t.Fatalf("ParsePage: %v", err)
	}
	if page.APIKey != "test-key" || page.ClientVersion != "2.20240501.00.00" {
		t.Errorf("innertube = %q %q", page.APIKey, page.ClientVersion)
	}
	if page.Continuation != "live-chat" {
		t.Errorf("continuation = %q, want the live chat view", page.Continuation)
	}
	id, err := ResolveChannelID(page.InitialData)
	if err != nil || id != testChannelID {
		t.Errorf("ResolveChannelID = %q, %v", id, err)
	}
}

func TestParsePageErrors(t *testing.T) {
	for name, html := range map[string]string{
		"no initial data": `<html>"INNERTUBE_API_KEY":"k"</html>`,
		"no api key":      `<script>var ytInitialData = {"contents":{}};</script>`,
		"truncated":       `<script>var ytInitialData = {"contents":{`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePage([]byte(html)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestVideoIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?feature=share&v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/live_chat?is_popout=1&v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/live/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?v=short", "short", false},
		{"https://www.youtube.com/@channel", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := VideoIDFromURL(tt.url)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("VideoIDFromURL = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

// scriptedYouTube serves the live chat page and a fixed sequence of poll responses.
type scriptedYouTube struct {
	mu        sync.Mutex
	failPolls int
	responses []string
	requests  []liveChatRequest
	urls      []string
	pageLoads int
}

func (s *scriptedYouTube) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := livePage(continuationFor(testChannelID))
	if req.Method == http.MethodGet {
		s.pageLoads++
	}
	if req.Method == http.MethodPost {
		var r liveChatRequest
		if err := json.NewDecoder(req.Body).Decode(&r); err != nil {
			return nil, err
		}
		s.requests = append(s.requests, r)
		s.urls = append(s.urls, req.URL.String())
		if len(s.requests) <= s.failPolls {
			return nil, errors.New("connection reset")
		}
		if len(s.responses) == 0 {
			return nil, errors.New("no scripted response left")
		}
		body, s.responses = s.responses[0], s.responses[1:]
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func pollResponse(next string) string {
	if next == "" {
		return `{"continuationContents":{"liveChatContinuation":{"actions":[]}}}`
	}
	return `{"continuationContents":{"liveChatContinuation":{"continuations":[{"invalidationContinuationData":{"continuation":"` + next + `","timeoutMs":1}}],"actions":[]}}}`
}

func TestPollerFollowsContinuations(t *testing.T) {
	yt := &scriptedYouTube{responses: []string{pollResponse("second"), pollResponse("third"), pollResponse("")}}
	logger := logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)), ScraperID)
	p := NewPoller(&http.Client{Transport: yt}, PollerOptions{MinInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	page, err := p.LoadPage(ctx, LiveChatPageURL("dQw4w9WgXcQ"))
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	if err := p.Run(ctx, page); !errors.Is(err, ErrChatEnded) {
		t.Fatalf("Run = %v, want ErrChatEnded", err)
	}

	yt.mu.Lock()
	defer yt.mu.Unlock()
	var got []string
	for _, r := range yt.requests {
		got = append(got, r.Continuation)
	}
	if strings.Join(got, ",") != "live-chat,second,third" {
		t.Errorf("continuations = %v", got)
	}
	if yt.requests[0].Context.Client.ClientVersion != "2.20240501.00.00" || yt.requests[0].Context.Client.ClientName != "WEB" {
		t.Errorf("client = %+v", yt.requests[0].Context.Client)
	}
	if !strings.HasPrefix(yt.urls[0], LiveChatEndpoint+"?key=test-key") {
		t.Errorf("url = %s", yt.urls[0])
	}
}

func TestPollerRetriesAndReloadsPage(t *testing.T) {
	yt := &scriptedYouTube{failPolls: reloadAfter, responses: []string{pollResponse("")}}
	logger := logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)), ScraperID)

	var mu sync.Mutex
	var counts []int
	p := NewPoller(&http.Client{Transport: yt}, PollerOptions{
		MinInterval: time.Millisecond,
		MaxInterval: time.Millisecond,
		OnFailure: func(_ error, consecutive int) {
			mu.Lock()
			defer mu.Unlock()
			counts = append(counts, consecutive)
		},
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	page, err := p.LoadPage(ctx, LiveChatPageURL("dQw4w9WgXcQ"))
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	page.Continuation = "stale"
	if err := p.Run(ctx, page); !errors.Is(err, ErrChatEnded) {
		t.Fatalf("Run = %v, want ErrChatEnded after recovering", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != reloadAfter || counts[reloadAfter-1] != reloadAfter {
		t.Errorf("failure counts = %v", counts)
	}

	yt.mu.Lock()
	defer yt.mu.Unlock()
	if yt.pageLoads != 2 {
		t.Errorf("page loads = %d, want 2", yt.pageLoads)
	}
	if n := len(yt.requests); n != reloadAfter+1 {
		t.Fatalf("made %d polls, want %d", n, reloadAfter+1)
	}
	if got := yt.requests[0].Continuation; got != "stale" {
		t.Errorf("first poll continuation = %q", got)
	}
	if got := yt.requests[reloadAfter].Continuation; got != "live-chat" {
		t.Errorf("poll after reload continuation = %q, want the reloaded one", got)
	}
}

func TestRetryWaitIsCapped(t *testing.T) {
	logger := logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)), ScraperID)
	p := NewPoller(http.DefaultClient, PollerOptions{MinInterval: time.Second, MaxInterval: 10 * time.Second}, logger)

	tests := map[int]time.Duration{
		1:  10 * time.Second,
		2:  20 * time.Second,
		4:  80 * time.Second,
		5:  maxRetryWait,
		40: maxRetryWait,
	}
	for failures, want := range tests {
		if got := p.retryWait(failures); got != want {
			t.Errorf("retryWait(%d) = %v, want %v", failures, got, want)
		}
	}
}
