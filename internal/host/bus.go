package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventTopic is the topic every scraper publishes on.
const EventTopic = "unichat://scraper_event"

// Bus is an in-process pub/sub carrying envelopes from scrapers to consumers.
type Bus struct {
	pubsub *gochannel.GoChannel
	topic  string
	logger *slog.Logger
}

// NewBus creates a bus. buffer sizes each subscriber's output channel.
func NewBus(buffer int64, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            buffer,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NewStdLogger(false, false))

	return &Bus{
		pubsub: pubsub,
		topic:  EventTopic,
		logger: logger.With("component", "bus"),
	}
}

// Publish implements Sink.
func (b *Bus) Publish(_ context.Context, env Envelope) error {
	msg := message.NewMessage(watermill.NewUUID(), env.Bytes())
	msg.Metadata.Set("type", env.Type)
	msg.Metadata.Set("scraperId", env.ScraperID)
	if err := b.pubsub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded envelopes that closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	messages, err := b.pubsub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range messages {
			env, err := DecodeEnvelope(msg.Payload)
			msg.Ack()
			if err != nil {
				b.logger.Warn("dropping undecodable envelope", "uuid", msg.UUID, "error", err)
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the bus and closes every subscription.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
