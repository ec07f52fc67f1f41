package twitch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/event"
	"github.com/john/unichat/internal/host"
	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/irc"
	"github.com/john/unichat/internal/logging"
	"github.com/john/unichat/internal/scraper"
)

// ScraperID identifies the Twitch scraper in envelopes.
const ScraperID = "twitch-chat"

// GQLClientID is the public client id of the Twitch web app.
const GQLClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

// Chat transports.
const (
	TransportWebSocket = "websocket"
	TransportIRC       = "irc"
)

// DefaultHandshakeTimeout bounds the wait for the channel-points subscription.
const DefaultHandshakeTimeout = 15 * time.Second

const expireInterval = time.Second

// Options configure a Scraper.
type Options struct {
	Transport        string
	Username         string
	OAuth            string
	HandshakeTimeout time.Duration
	JoinWindow       time.Duration
	// Dialer and HTTPTransport default to gorilla and http.DefaultTransport. Both are
	// installed on the port.
	Dialer        intercept.WebSocketDialer
	HTTPTransport http.RoundTripper
	Clock         clock.Clock
	Logger        *slog.Logger
	FrameLog      scraper.FrameLog
}

// Scraper is the Twitch platform driver. All decoding happens in observers registered on
// its port, so traffic is handled the same whichever transport produced it.
type Scraper struct {
	opts       Options
	port       *intercept.Port
	dialer     intercept.WebSocketDialer
	http       *http.Client
	dispatcher *host.Dispatcher
	logger     *logging.Logger
	frames     scraper.FrameLog

	badges     *BadgeStore
	cheermotes *CheermoteSet
	mapper     *Mapper
	joiner     *RedemptionJoiner

	observers sync.Once

	mu       sync.Mutex
	reporter scraper.Reporter
	ack      *scraper.Signal[string]
	room     *scraper.Signal[string]
}

// New creates a Twitch scraper whose sockets and HTTP calls go through port.
func New(port *intercept.Port, dispatcher *host.Dispatcher, opts Options) *Scraper {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Transport == "" {
		opts.Transport = TransportWebSocket
	}
	if opts.FrameLog == nil {
		opts.FrameLog = scraper.NopFrameLog{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = intercept.FromGorilla(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		})
	}

	badges := NewBadgeStore()
	cheermotes := NewCheermoteSet()
	return &Scraper{
		opts:   opts,
		port:   port,
		dialer: port.InstallDialer(opts.Dialer),
		http: &http.Client{
			Transport: port.InstallTransport(opts.HTTPTransport),
			Timeout:   15 * time.Second,
		},
		dispatcher: dispatcher,
		logger:     logging.New(opts.Logger, ScraperID),
		frames:     opts.FrameLog,
		badges:     badges,
		cheermotes: cheermotes,
		mapper:     NewMapper(badges, cheermotes, opts.Clock),
		joiner:     NewRedemptionJoiner(opts.JoinWindow, opts.Clock),
		ack:        scraper.NewSignal[string](),
		room:       scraper.NewSignal[string](),
	}
}

func (s *Scraper) ID() string { return ScraperID }

// SetReporter routes recoverable errors, typically to the Runner driving s.
func (s *Scraper) SetReporter(r scraper.Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = r
}

// Init joins the channel named by target and returns once the channel-points subscription
// has been sent.
func (s *Scraper) Init(ctx context.Context, target string) (map[string]any, error) {
	login, err := ChannelFromURL(target)
	if err != nil {
		return nil, err
	}

	s.observers.Do(func() {
		s.port.RegisterMessageObserver(s.onMessage)
		s.port.RegisterSendObserver(s.onSend)
		s.port.RegisterResponseObserver(s.onResponse)
	})

	s.mu.Lock()
	s.ack = scraper.NewSignal[string]()
	s.room = scraper.NewSignal[string]()
	ack, room := s.ack, s.room
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	go s.runChat(runCtx, login)
	go s.runHermes(runCtx, room)
	go s.expireLoop(runCtx)
	go func() {
		if err := s.FetchBadges(runCtx, login); err != nil && runCtx.Err() == nil {
			s.report(runCtx, err)
		}
	}()

	channelID, err := scraper.Await(ctx, s.opts.Clock, ack.C(), s.opts.HandshakeTimeout)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("await channel-points subscription: %w", err)
	}
	context.AfterFunc(ctx, cancel)

	return map[string]any{
		"channelId":   channelID,
		"channelName": login,
	}, nil
}

// FetchBadges requests badges and cheermotes. The response reaches the response observer.
func (s *Scraper) FetchBadges(ctx context.Context, login string) error {
	body, err := BadgesAndCheermotesRequest(login)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, GQLEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", GQLClientID)
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch badges: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch badges: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *Scraper) runChat(ctx context.Context, login string) {
	var chat ChatTransport
	if s.opts.Transport == TransportIRC {
		chat = NewIRCConnector(s.opts.Username, s.opts.OAuth, s.port, s.logger)
	} else {
		chat = NewWebSocketChat(s.dialer, s.opts.Clock, s.logger)
	}
	if err := chat.Run(ctx, login); err != nil && ctx.Err() == nil {
		s.report(ctx, fmt.Errorf("chat transport stopped: %w", err))
	}
}

func (s *Scraper) runHermes(ctx context.Context, room *scraper.Signal[string]) {
	var roomID string
	select {
	case roomID = <-room.C():
	case <-ctx.Done():
		return
	}

	hermes := NewHermesClient(s.dialer, s.opts.Clock, s.logger)
	if err := hermes.Run(ctx, PointsTopic(roomID)); err != nil && ctx.Err() == nil {
		s.report(ctx, fmt.Errorf("hermes stopped: %w", err))
	}
}

func (s *Scraper) expireLoop(ctx context.Context) {
	ticker := s.opts.Clock.NewTicker(expireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range s.joiner.Expire() {
				s.emit(ctx, ev)
			}
		}
	}
}

func (s *Scraper) onMessage(ctx context.Context, frame intercept.RawFrame, _ intercept.SocketInfo) error {
	switch {
	case strings.HasPrefix(frame.TransportURL, "wss://hermes.twitch.tv/"):
		return s.handleHermes(ctx, frame.Payload)
	case strings.HasPrefix(frame.TransportURL, "wss://irc-ws.chat.twitch.tv"), frame.TransportURL == IRCAddress:
		s.handleChat(ctx, frame.Payload)
	}
	return nil
}

func (s *Scraper) handleChat(ctx context.Context, payload []byte) {
	for _, line := range irc.SplitFrame(string(payload)) {
		s.frames.Raw(line)

		msg, err := irc.Parse(line)
		if err != nil {
			s.frames.Failed(err, line)
			s.report(ctx, fmt.Errorf("parse irc line: %w", err))
			continue
		}

		if msg.Command.Name == "ROOMSTATE" {
			if id, ok := msg.Tag("room-id"); ok && id != "" {
				s.currentRoom().Resolve(id)
			}
			continue
		}

		ev, err := s.mapper.Map(msg)
		if err != nil {
			s.frames.Failed(err, line)
			s.report(ctx, fmt.Errorf("map %s: %w", msg.Command.Name, err))
			continue
		}
		if ev == nil {
			switch msg.Command.Name {
			case "PRIVMSG", "USERNOTICE", "CLEARCHAT", "CLEARMSG":
				s.frames.Unknown(line)
			}
			continue
		}

		if p, ok := ev.(PendingReward); ok {
			if joined, ok := s.joiner.AddMessage(p); ok {
				s.emit(ctx, joined)
			}
			continue
		}
		s.emit(ctx, ev)
	}
}

func (s *Scraper) handleHermes(ctx context.Context, payload []byte) error {
	r, err := DecodeHermes(payload)
	if err != nil {
		s.frames.Failed(err, string(payload))
		s.report(ctx, err)
		return err
	}
	if r == nil {
		return nil
	}
	s.frames.Raw(string(payload))

	ev, err := NewRedemption(r)
	if err != nil {
		s.frames.Failed(err, string(payload))
		s.report(ctx, err)
		return err
	}
	if out, ok := s.joiner.AddRedemption(ev); ok {
		s.emit(ctx, out)
	}
	return nil
}

func (s *Scraper) onSend(_ context.Context, frame intercept.RawFrame, _ intercept.SocketInfo) error {
	topic, ok := SubscribedTopic(frame.Payload)
	if !ok {
		return nil
	}
	id, ok := ChannelIDFromTopic(topic)
	if !ok {
		return nil
	}
	s.mu.Lock()
	ack := s.ack
	s.mu.Unlock()
	if ack.Resolve(id) {
		s.logger.Info("subscribed to channel points of {}", id)
	}
	return nil
}

func (s *Scraper) onResponse(ctx context.Context, frame intercept.RawFrame, resp *http.Response) error {
	if !strings.HasPrefix(frame.TransportURL, GQLEndpoint) || resp.StatusCode != http.StatusOK {
		return nil
	}

	updates, err := DecodeGQL(frame.Payload)
	if err != nil {
		s.frames.Failed(err, string(frame.Payload))
		s.report(ctx, err)
	}
	for _, u := range updates {
		if u.Cheermotes != nil {
			s.cheermotes.Add(u.Cheermotes...)
		} else {
			s.badges.Put(u.Scope, u.Badges)
		}
		s.logger.Debug("loaded {} update", u.Kind())
		if err := s.dispatcher.Dispatch(ctx, u.Kind(), u); err != nil {
			s.logger.Warn("failed to dispatch {}", u.Kind(), err)
		}
	}
	return nil
}

func (s *Scraper) emit(ctx context.Context, ev event.Event) {
	s.frames.Parsed(ev)
	if err := s.dispatcher.Dispatch(ctx, string(ev.EventType()), ev); err != nil {
		s.logger.Warn("failed to dispatch {}", ev.EventType(), err)
	}
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

func (s *Scraper) currentRoom() *scraper.Signal[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

var reservedPaths = map[string]bool{
	"directory": true, "settings": true, "search": true, "downloads": true,
	"jobs": true, "p": true, "subscriptions": true, "wallet": true, "inventory": true,
}

// ChannelFromURL extracts the channel login from a Twitch page URL. Channel pages, chat
// popouts, embeds and moderator views are accepted.
func ChannelFromURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "https" || u.Host != "www.twitch.tv" {
		return "", fmt.Errorf("%w: this scraper can only be initialized on Twitch pages", scraper.ErrUnsupportedPage)
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	var login string
	switch {
	case len(segments) >= 2 && (segments[0] == "popout" || segments[0] == "embed" || segments[0] == "moderator"):
		login = segments[1]
	case len(segments) >= 1 && !reservedPaths[segments[0]]:
		login = segments[0]
	}
	if login == "" {
		return "", fmt.Errorf("%w: no channel in %s", scraper.ErrUnsupportedPage, target)
	}
	return strings.ToLower(login), nil
}
