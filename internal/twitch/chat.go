package twitch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/irc"
	"github.com/john/unichat/internal/logging"
)

// ChatWebSocketURL is the IRC-over-WebSocket endpoint used by the Twitch web chat.
const ChatWebSocketURL = "wss://irc-ws.chat.twitch.tv:443"

const maxBackoff = 30 * time.Second

// ChatTransport joins a channel's chat and keeps reading until ctx is cancelled.
type ChatTransport interface {
	Run(ctx context.Context, channel string) error
}

// WebSocketChat speaks IRC over WebSocket as an anonymous justinfan user. Frames are not
// decoded here; observers on the dialer's port receive them.
type WebSocketChat struct {
	dialer intercept.WebSocketDialer
	url    string
	clock  clock.Clock
	logger *logging.Logger
}

// NewWebSocketChat creates a chat transport. dialer should be installed on the scraper's port.
func NewWebSocketChat(dialer intercept.WebSocketDialer, clk clock.Clock, logger *logging.Logger) *WebSocketChat {
	return &WebSocketChat{dialer: dialer, url: ChatWebSocketURL, clock: clk, logger: logger}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (c *WebSocketChat) Run(ctx context.Context, channel string) error {
	for attempt := 0; ; attempt++ {
		start := c.clock.Now()
		err := c.session(ctx, channel)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.clock.Now().Sub(start) > maxBackoff {
			attempt = 0
		}

		backoff := reconnectBackoff(attempt)
		c.logger.Warn("chat connection lost, reconnecting in {}", backoff, err)
		if err := sleep(ctx, c.clock, backoff); err != nil {
			return err
		}
	}
}

// reconnectBackoff doubles from one second and is capped at maxBackoff.
func reconnectBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<uint(min(attempt, 5))) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WebSocketChat) session(ctx context.Context, channel string) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial chat: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	nick := fmt.Sprintf("justinfan%d", 10000+rand.Intn(80000))
	for _, line := range []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership",
		"PASS SCHMOOPIIE",
		"NICK " + nick,
		fmt.Sprintf("USER %s 8 * :%s", nick, nick),
		"JOIN #" + strings.ToLower(channel),
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("write %q: %w", strings.Fields(line)[0], err)
		}
	}
	c.logger.Info("joined #{} as {}", channel, nick)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read chat: %w", err)
		}
		for _, line := range irc.SplitFrame(string(data)) {
			if strings.HasPrefix(line, "PING") {
				pong := "PONG" + strings.TrimPrefix(line, "PING")
				if err := conn.WriteMessage(websocket.TextMessage, []byte(pong)); err != nil {
					return fmt.Errorf("write PONG: %w", err)
				}
			}
		}
	}
}
