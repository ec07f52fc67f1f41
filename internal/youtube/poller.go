package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/logging"
)

// ErrChatEnded is returned by Run when YouTube stops handing out continuations.
var ErrChatEnded = errors.New("live chat ended")

const (
	defaultMinInterval = time.Second
	defaultMaxInterval = 10 * time.Second
	maxRetryWait       = 2 * time.Minute
	// reloadAfter consecutive failures the page is fetched again for a fresh continuation.
	reloadAfter = 5
	userAgent          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var (
	apiKeyPattern        = regexp.MustCompile(`"INNERTUBE_API_KEY"\s*:\s*"([^"]+)"`)
	clientVersionPattern = regexp.MustCompile(`"INNERTUBE_CONTEXT_CLIENT_VERSION"\s*:\s*"([^"]+)"`)
	fallbackVersion      = regexp.MustCompile(`"clientVersion"\s*:\s*"([^"]+)"`)
)

// Page is what the poller needs from the live chat page.
type Page struct {
	URL           string
	InitialData   []byte
	APIKey        string
	ClientVersion string
	Continuation  string
}

// PollerOptions configure a Poller.
type PollerOptions struct {
	// MinInterval is the floor between two polls regardless of what YouTube asks for.
	MinInterval time.Duration
	// MaxInterval caps the server-provided timeout.
	MaxInterval time.Duration
	Clock       clock.Clock
	// OnFailure is called after every failed poll with the number of consecutive failures.
	OnFailure func(err error, consecutive int)
}

// Poller fetches the live chat page and polls get_live_chat with the current continuation.
// Responses are not decoded here: the client's transport is expected to be observed.
type Poller struct {
	client    *http.Client
	clock     clock.Clock
	limiter   *rate.Limiter
	maxWait   time.Duration
	onFailure func(error, int)
	logger    *logging.Logger
}

func NewPoller(client *http.Client, opts PollerOptions, logger *logging.Logger) *Poller {
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaultMinInterval
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = defaultMaxInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.OnFailure == nil {
		opts.OnFailure = func(error, int) {}
	}
	return &Poller{
		client:    client,
		clock:     opts.Clock,
		limiter:   rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		maxWait:   opts.MaxInterval,
		onFailure: opts.OnFailure,
		logger:    logger,
	}
}

// LoadPage fetches pageURL and extracts ytInitialData, the innertube key and client
// version, and the "live chat" (not "top chat") continuation.
func (p *Poller) LoadPage(ctx context.Context, pageURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch live chat page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch live chat page: unexpected status %d", resp.StatusCode)
	}
	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read live chat page: %w", err)
	}
	page, err := ParsePage(html)
	if err != nil {
		return Page{}, err
	}
	page.URL = pageURL
	return page, nil
}

// ParsePage extracts the poller inputs from live chat page HTML.
func ParsePage(html []byte) (Page, error) {
	data, err := extractInitialData(html)
	if err != nil {
		return Page{}, err
	}

	page := Page{InitialData: data}
	if m := apiKeyPattern.FindSubmatch(html); m != nil {
		page.APIKey = string(m[1])
	} else {
		return Page{}, errors.New("innertube api key not found")
	}
	if m := clientVersionPattern.FindSubmatch(html); m != nil {
		page.ClientVersion = string(m[1])
	} else if m := fallbackVersion.FindSubmatch(html); m != nil {
		page.ClientVersion = string(m[1])
	} else {
		return Page{}, errors.New("innertube client version not found")
	}

	root := gjson.ParseBytes(data)
	page.Continuation = root.Get("contents.liveChatRenderer.header.liveChatHeaderRenderer.viewSelector.sortFilterSubMenuRenderer.subMenuItems.1.continuation.reloadContinuationData.continuation").String()
	if page.Continuation == "" {
		page.Continuation = initialContinuation(root)
	}
	if page.Continuation == "" {
		return Page{}, ErrNoContinuation
	}
	return page, nil
}

// extractInitialData decodes the JSON object assigned to ytInitialData.
func extractInitialData(html []byte) ([]byte, error) {
	i := bytes.Index(html, []byte("ytInitialData"))
	if i < 0 {
		return nil, errors.New("ytInitialData not found")
	}
	start := bytes.IndexByte(html[i:], '{')
	if start < 0 {
		return nil, errors.New("ytInitialData has no object")
	}

	var raw json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(html[i+start:])).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode ytInitialData: %w", err)
	}
	return raw, nil
}

type liveChatRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
			HL            string `json:"hl"`
		} `json:"client"`
	} `json:"context"`
	Continuation string `json:"continuation"`
}

// Run polls until ctx is cancelled or the chat ends. Failed polls are retried with
// exponential backoff capped at maxRetryWait; every reloadAfter consecutive failures the
// page is loaded again in case the continuation expired.
func (p *Poller) Run(ctx context.Context, page Page) error {
	continuation := page.Continuation
	failures := 0

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		next, wait, err := p.poll(ctx, page, continuation)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrChatEnded):
			return err
		case err != nil:
			failures++
			p.logger.Warn("poll failed ({} in a row)", failures, err)
			p.onFailure(err, failures)
			wait = p.retryWait(failures)
			if failures%reloadAfter == 0 && page.URL != "" {
				if fresh, err := p.LoadPage(ctx, page.URL); err != nil {
					p.logger.Warn("reload of live chat page failed", err)
				} else {
					page, continuation = fresh, fresh.Continuation
				}
			}
		default:
			failures = 0
			continuation = next
		}

		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// retryWait doubles from maxWait with each consecutive failure.
func (p *Poller) retryWait(failures int) time.Duration {
	wait := p.maxWait << uint(min(failures-1, 8))
	if wait <= 0 || wait > maxRetryWait {
		return maxRetryWait
	}
	return wait
}

func (p *Poller) poll(ctx context.Context, page Page, continuation string) (string, time.Duration, error) {
	var body liveChatRequest
	body.Context.Client.ClientName = "WEB"
	body.Context.Client.ClientVersion = page.ClientVersion
	body.Context.Client.HL = "en"
	body.Continuation = continuation

	data, err := json.Marshal(body)
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, LiveChatEndpoint+"?key="+page.APIKey+"&prettyPrint=false", bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	next, timeout := nextContinuation(raw)
	if next == "" {
		return "", 0, ErrChatEnded
	}
	return next, p.clamp(timeout), nil
}

// nextContinuation finds the continuation token and timeout whatever kind of continuation
// data YouTube returned.
func nextContinuation(body []byte) (string, time.Duration) {
	var token string
	var timeout time.Duration
	gjson.GetBytes(body, "continuationContents.liveChatContinuation.continuations.0").ForEach(func(_, v gjson.Result) bool {
		if c := v.Get("continuation").String(); c != "" {
			token = c
			timeout = time.Duration(v.Get("timeoutMs").Int()) * time.Millisecond
			return false
		}
		return true
	})
	return token, timeout
}

func (p *Poller) clamp(d time.Duration) time.Duration {
	if d > p.maxWait {
		return p.maxWait
	}
	return d
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := p.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LiveChatPageURL is the live chat page of a video.
func LiveChatPageURL(videoID string) string {
	return "https://www.youtube.com/live_chat?is_popout=1&v=" + videoID
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoIDFromURL accepts watch, live_chat, live, shorts and youtu.be URLs.
func VideoIDFromURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	s = strings.TrimPrefix(s, "www.")

	var id string
	switch {
	case strings.HasPrefix(s, "youtu.be/"):
		id = strings.TrimPrefix(s, "youtu.be/")
	case strings.HasPrefix(s, "youtube.com/live/"):
		id = strings.TrimPrefix(s, "youtube.com/live/")
	case strings.HasPrefix(s, "youtube.com/shorts/"):
		id = strings.TrimPrefix(s, "youtube.com/shorts/")
	case strings.HasPrefix(s, "youtube.com/watch"), strings.HasPrefix(s, "youtube.com/live_chat"):
		_, query, _ := strings.Cut(s, "?")
		for _, kv := range strings.Split(query, "&") {
			if v, ok := strings.CutPrefix(kv, "v="); ok {
				id = v
				break
			}
		}
	}
	id, _, _ = strings.Cut(id, "?")
	id, _, _ = strings.Cut(id, "/")
	return id, videoIDPattern.MatchString(id)
}
