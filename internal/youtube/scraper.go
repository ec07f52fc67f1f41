package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/host"
	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/logging"
	"github.com/john/unichat/internal/scraper"
)

// ScraperID identifies the YouTube scraper in envelopes.
const ScraperID = "youtube-chat"

// Options configure a Scraper.
type Options struct {
	MinInterval   time.Duration
	MaxInterval   time.Duration
	HTTPTransport http.RoundTripper
	Clock         clock.Clock
	Logger        *slog.Logger
	FrameLog      scraper.FrameLog
}

// Scraper is the YouTube platform driver. The poller's responses pass through the port and
// are decoded by the response observer.
type Scraper struct {
	port       *intercept.Port
	dispatcher *host.Dispatcher
	decoder    *Decoder
	poller     *Poller
	logger     *logging.Logger
	frames     scraper.FrameLog

	observers sync.Once

	mu       sync.Mutex
	reporter scraper.Reporter
	done     chan error
}

func New(port *intercept.Port, dispatcher *host.Dispatcher, opts Options) *Scraper {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FrameLog == nil {
		opts.FrameLog = scraper.NopFrameLog{}
	}

	logger := logging.New(opts.Logger, ScraperID)
	client := &http.Client{
		Transport: port.InstallTransport(opts.HTTPTransport),
		Timeout:   20 * time.Second,
	}
	s := &Scraper{
		port:       port,
		dispatcher: dispatcher,
		decoder:    NewDecoder(opts.Clock),
		logger:     logger,
		frames:     opts.FrameLog,
		done:       make(chan error, 1),
	}
	s.poller = NewPoller(client, PollerOptions{
		MinInterval: opts.MinInterval,
		MaxInterval: opts.MaxInterval,
		Clock:       opts.Clock,
		OnFailure: func(err error, consecutive int) {
			s.report(context.Background(), fmt.Errorf("poll live chat (%d in a row): %w", consecutive, err))
		},
	}, logger)
	return s
}

func (s *Scraper) ID() string { return ScraperID }

// SetReporter routes recoverable errors, typically to the Runner driving s.
func (s *Scraper) SetReporter(r scraper.Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = r
}

// Init loads the live chat page of the video in target and starts polling. Channel
// resolution is best effort: a page whose channel cannot be recovered still becomes ready.
func (s *Scraper) Init(ctx context.Context, target string) (map[string]any, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "https" || (u.Host != "www.youtube.com" && u.Host != "youtube.com" && u.Host != "youtu.be") {
		return nil, fmt.Errorf("%w: this scraper can only be initialized on YouTube pages", scraper.ErrUnsupportedPage)
	}
	videoID, ok := VideoIDFromURL(target)
	if !ok {
		return nil, fmt.Errorf("%w: no video id in %s", scraper.ErrUnsupportedPage, target)
	}

	s.observers.Do(func() {
		s.port.RegisterResponseObserver(s.onResponse)
	})

	page, err := s.poller.LoadPage(ctx, LiveChatPageURL(videoID))
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"videoId": videoID}
	if channelID, err := ResolveChannelID(page.InitialData); err != nil {
		s.logger.Warn("could not resolve channel id", err)
	} else {
		s.decoder.SetChannelID(channelID)
		fields["channelId"] = channelID
	}

	done := make(chan error, 1)
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	go func() {
		err := s.poller.Run(ctx, page)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrChatEnded) {
			s.logger.Info("live chat of {} ended", videoID)
		}
		done <- fmt.Errorf("poll live chat of %s: %w", videoID, err)
	}()

	return fields, nil
}

// Done delivers the reason polling stopped for good, typically ErrChatEnded. It refers to
// the most recent Init.
func (s *Scraper) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scraper) onResponse(ctx context.Context, frame intercept.RawFrame, resp *http.Response) error {
	actions, err := s.decoder.DecodeResponse(frame.TransportURL, resp.StatusCode, frame.Payload)
	if err != nil {
		s.frames.Failed(err, string(frame.Payload))
		s.report(ctx, err)
		return err
	}

	for _, a := range actions {
		s.frames.Raw(a.Raw)
		switch {
		case a.Err != nil:
			s.frames.Failed(a.Err, a.Raw)
			s.report(ctx, a.Err)
		case a.Event == nil:
			s.frames.Unknown(a.Raw)
		default:
			s.frames.Parsed(a.Event)
			if err := s.dispatcher.Dispatch(ctx, string(a.Event.EventType()), a.Event); err != nil {
				s.logger.Warn("failed to dispatch {}", a.Event.EventType(), err)
			}
		}
	}
	return nil
}

func (s *Scraper) report(ctx context.Context, err error) {
	s.mu.Lock()
	r := s.reporter
	s.mu.Unlock()
	if r == nil {
		s.logger.Warn("unreported error", err)
		return
	}
	r.ReportError(ctx, err)
}
