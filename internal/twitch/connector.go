package twitch

import (
	"context"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/logging"
)

// IRCAddress labels lines received through the TCP IRC client.
const IRCAddress = "irc://irc.chat.twitch.tv:6697"

// IRCConnector joins chat over TCP IRC and replays every raw line through the port, so the
// same observers decode it as if it came from the WebSocket chat.
type IRCConnector struct {
	username string
	oauth    string
	port     *intercept.Port
	logger   *logging.Logger
	client   *twitch.Client
}

// NewIRCConnector creates a connector. An empty username connects anonymously.
func NewIRCConnector(username, oauth string, port *intercept.Port, logger *logging.Logger) *IRCConnector {
	return &IRCConnector{
		username: username,
		oauth:    oauth,
		port:     port,
		logger:   logger,
	}
}

// Run joins channel and blocks until ctx is cancelled or the client gives up.
func (c *IRCConnector) Run(ctx context.Context, channel string) error {
	if c.username == "" {
		c.client = twitch.NewAnonymousClient()
	} else {
		c.client = twitch.NewClient(c.username, c.oauth)
	}

	forward := func(raw string) {
		c.port.Inject(ctx, IRCAddress, []byte(raw))
	}

	c.client.OnPrivateMessage(func(m twitch.PrivateMessage) { forward(m.Raw) })
	c.client.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) { forward(m.Raw) })
	c.client.OnClearChatMessage(func(m twitch.ClearChatMessage) { forward(m.Raw) })
	c.client.OnClearMessage(func(m twitch.ClearMessage) { forward(m.Raw) })
	c.client.OnRoomStateMessage(func(m twitch.RoomStateMessage) { forward(m.Raw) })

	c.client.OnConnect(func() {
		c.logger.Info("connected to Twitch IRC")
	})
	c.client.OnReconnectMessage(func(twitch.ReconnectMessage) {
		c.logger.Info("reconnecting to Twitch IRC...")
	})

	c.client.Join(channel)
	c.logger.Info("joined channel: {}", channel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.client.Connect()
	}()

	select {
	case <-ctx.Done():
		c.logger.Info("disconnecting from Twitch IRC...")
		c.client.Disconnect()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
