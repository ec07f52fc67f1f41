package kick

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/host"
	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/logging"
	"github.com/john/unichat/internal/scraper"
)

// ScraperID identifies the Kick scraper in envelopes.
const ScraperID = "kick-chat"

// Options configure a Scraper.
type Options struct {
	// Chatrooms maps slugs to pre-configured chatroom ids, skipping the API lookup.
	Chatrooms     map[string]int
	Dial          DialFunc
	HTTPTransport http.RoundTripper
	Clock         clock.Clock
	Logger        *slog.Logger
	FrameLog      scraper.FrameLog
}

// Scraper is the Kick platform driver. Ready means the chatroom was joined.
type Scraper struct {
	opts       Options
	port       *intercept.Port
	http       *http.Client
	connector  *Connector
	dispatcher *host.Dispatcher
	logger     *logging.Logger
	frames     scraper.FrameLog

	observers sync.Once

	mu       sync.Mutex
	reporter scraper.Reporter
	channel  Channel
	done     <-chan error
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
	return &Scraper{
		opts: opts,
		port: port,
		http: &http.Client{
			Transport: port.InstallTransport(opts.HTTPTransport),
			Timeout:   10 * time.Second,
		},
		connector:  NewConnector(opts.Dial, port, logger),
		dispatcher: dispatcher,
		logger:     logger,
		frames:     opts.FrameLog,
	}
}

func (s *Scraper) ID() string { return ScraperID }

// SetReporter routes recoverable errors, typically to the Runner driving s.
func (s *Scraper) SetReporter(r scraper.Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = r
}

// Init resolves the chatroom of the channel in target and joins it.
func (s *Scraper) Init(ctx context.Context, target string) (map[string]any, error) {
	slug, err := SlugFromURL(target)
	if err != nil {
		return nil, err
	}

	s.observers.Do(func() {
		s.port.RegisterMessageObserver(s.onMessage)
	})

	var channel Channel
	if id := s.opts.Chatrooms[slug]; id > 0 {
		channel = Channel{Slug: slug, ChatroomID: id}
		s.logger.Info("using pre-configured Kick channel: {} -> ID {}", slug, id)
	} else {
		channel, err = ResolveChannel(ctx, s.http, slug)
		if err != nil {
			return nil, fmt.Errorf("resolve Kick channel %q: %w", slug, err)
		}
		s.logger.Info("resolved Kick channel: {} -> ID {}", channel.Slug, channel.ChatroomID)
	}

	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	done, err := s.connector.Join(ctx, channel.ChatroomID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	return map[string]any{
		"channelId":   strconv.Itoa(channel.ChatroomID),
		"channelName": channel.Slug,
	}, nil
}

// Done delivers ErrChatClosed when the chat connection of the most recent Init drops.
func (s *Scraper) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scraper) onMessage(ctx context.Context, frame intercept.RawFrame, _ intercept.SocketInfo) error {
	if frame.TransportURL != ChatAddress {
		return nil
	}
	s.frames.Raw(string(frame.Payload))

	f, err := DecodeFrame(frame.Payload)
	if err != nil {
		s.frames.Failed(err, string(frame.Payload))
		s.report(ctx, err)
		return err
	}

	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if f.ChatroomID != channel.ChatroomID {
		s.logger.Warn("received message from unknown chatroom ID: {}", f.ChatroomID)
		s.frames.Unknown(string(frame.Payload))
		return nil
	}

	msg := Decode(f, channel, s.opts.Clock.Now())
	s.frames.Parsed(msg)
	if err := s.dispatcher.Dispatch(ctx, string(msg.EventType()), msg); err != nil {
		s.logger.Warn("failed to dispatch {}", msg.EventType(), err)
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
