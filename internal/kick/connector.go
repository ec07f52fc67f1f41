package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"

	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/logging"
)

// ChatAddress labels frames received through the Kick Pusher client.
const ChatAddress = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679"

// ErrChatClosed is delivered when the client closes its message channel.
var ErrChatClosed = errors.New("kick chat connection closed")

// ChatClient is the part of the Kick chat client the connector uses.
type ChatClient interface {
	JoinChannelByID(chatroomID int) error
	Messages() <-chan kickchat.ChatMessage
	Close()
}

// DialFunc opens a chat client.
type DialFunc func() (ChatClient, error)

// Dial connects a kick-chat-wrapper client.
func Dial() (ChatClient, error) {
	client, err := kickchat.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create Kick client: %w", err)
	}
	return wrapperClient{client: client}, nil
}

type wrapperClient struct {
	client *kickchat.Client
}

func (w wrapperClient) JoinChannelByID(id int) error { return w.client.JoinChannelByID(id) }

func (w wrapperClient) Messages() <-chan kickchat.ChatMessage { return w.client.ListenForMessages() }

func (w wrapperClient) Close() { w.client.Close() }

// Connector joins a chatroom and replays every message through the port as a ChatFrame.
type Connector struct {
	dial   DialFunc
	port   *intercept.Port
	logger *logging.Logger
}

func NewConnector(dial DialFunc, port *intercept.Port, logger *logging.Logger) *Connector {
	if dial == nil {
		dial = Dial
	}
	return &Connector{dial: dial, port: port, logger: logger}
}

// Join connects and joins chatroomID. It returns once the join succeeded; messages are
// forwarded until ctx is cancelled or the client closes its channel, in which case
// ErrChatClosed is sent on the returned channel.
func (c *Connector) Join(ctx context.Context, chatroomID int) (<-chan error, error) {
	client, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.logger.Info("connected to Kick WebSocket")

	if err := client.JoinChannelByID(chatroomID); err != nil {
		client.Close()
		return nil, fmt.Errorf("join chatroom %d: %w", chatroomID, err)
	}
	c.logger.Info("joined Kick chatroom {}", chatroomID)

	messages := client.Messages()
	done := make(chan error, 1)
	go func() {
		defer client.Close()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					c.logger.Info("Kick message channel closed")
					done <- ErrChatClosed
					return
				}
				c.forward(ctx, msg)
			case <-ctx.Done():
				c.logger.Info("disconnecting from Kick chat...")
				return
			}
		}
	}()
	return done, nil
}

func (c *Connector) forward(ctx context.Context, msg kickchat.ChatMessage) {
	data, err := json.Marshal(FrameFromMessage(msg))
	if err != nil {
		c.logger.Warn("could not encode Kick message", err)
		return
	}
	c.port.Inject(ctx, ChatAddress, data)
}

// FrameFromMessage copies the fields of a wrapper message into a ChatFrame.
func FrameFromMessage(msg kickchat.ChatMessage) ChatFrame {
	f := ChatFrame{
		ChatroomID: msg.ChatroomID,
		SenderID:   msg.Sender.ID,
		Username:   msg.Sender.Username,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
	for _, b := range msg.Sender.Identity.Badges {
		f.Badges = append(f.Badges, BadgeFrame{Type: b.Type, Text: b.Text})
	}
	return f
}
