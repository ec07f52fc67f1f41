package twitch

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/logging"
)

// HermesURL is the Twitch PubSub successor endpoint used by the web client.
const HermesURL = "wss://hermes.twitch.tv/v1?clientId=kimne78kx3ncx6brgo4mv6wki5h1ko"

const hermesReadTimeout = 60 * time.Second

// HermesClient subscribes to one pubsub topic. Notifications reach the port's observers.
type HermesClient struct {
	dialer intercept.WebSocketDialer
	clock  clock.Clock
	logger *logging.Logger
}

func NewHermesClient(dialer intercept.WebSocketDialer, clk clock.Clock, logger *logging.Logger) *HermesClient {
	return &HermesClient{dialer: dialer, clock: clk, logger: logger}
}

// Run subscribes to topic and reconnects with backoff until ctx is done.
func (h *HermesClient) Run(ctx context.Context, topic string) error {
	for attempt := 0; ; attempt++ {
		err := h.session(ctx, topic)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		backoff := reconnectBackoff(attempt)
		h.logger.Warn("hermes connection lost, reconnecting in {}", backoff, err)
		if err := sleep(ctx, h.clock, backoff); err != nil {
			return err
		}
	}
}

func (h *HermesClient) session(ctx context.Context, topic string) error {
	conn, _, err := h.dialer.DialContext(ctx, HermesURL, nil)
	if err != nil {
		return fmt.Errorf("dial hermes: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	frame, err := SubscribeFrame(topic, h.clock.Now())
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	h.logger.Debug("subscribed to {}", topic)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(hermesReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return fmt.Errorf("read hermes: %w", err)
		}
	}
}
