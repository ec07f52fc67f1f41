package twitch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PointsTopicPrefix is the pubsub topic family carrying channel-points redemptions.
const PointsTopicPrefix = "community-points-channel-v1"

type hermesFrame struct {
	Type         string `json:"type"`
	ID           string `json:"id,omitempty"`
	Notification *struct {
		Type   string `json:"type"`
		Pubsub string `json:"pubsub"`
	} `json:"notification,omitempty"`
	Subscribe *hermesSubscribe `json:"subscribe,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
}

type hermesSubscribe struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Pubsub *struct {
		Topic string `json:"topic"`
	} `json:"pubsub,omitempty"`
}

type pubsubMessage struct {
	Type string `json:"type"`
	Data struct {
		Redemption json.RawMessage `json:"redemption"`
	} `json:"data"`
}

// RewardRedemption is the reward-redeemed pubsub payload.
type RewardRedemption struct {
	ID   string `json:"id"`
	User struct {
		ID          string `json:"id"`
		Login       string `json:"login"`
		DisplayName string `json:"display_name"`
	} `json:"user"`
	ChannelID string `json:"channel_id"`
	Reward    struct {
		ID           string            `json:"id"`
		Title        string            `json:"title"`
		Prompt       *string           `json:"prompt"`
		Cost         int               `json:"cost"`
		Image        map[string]string `json:"image"`
		DefaultImage map[string]string `json:"default_image"`
	} `json:"reward"`
	UserInput  *string `json:"user_input"`
	RedeemedAt string  `json:"redeemed_at"`

	// Raw is the untouched redemption object.
	Raw map[string]any `json:"-"`
}

// HasUserInput reports whether the viewer typed a message with the redemption.
func (r *RewardRedemption) HasUserInput() bool {
	return r.UserInput != nil && *r.UserInput != ""
}

// IconURL prefers the custom reward image over the default one.
func (r *RewardRedemption) IconURL() string {
	if u := r.Reward.Image["url_1x"]; u != "" {
		return u
	}
	return r.Reward.DefaultImage["url_1x"]
}

// DecodeHermes extracts a reward redemption from a received Hermes frame. It returns nil
// without error for every other frame type.
func DecodeHermes(payload []byte) (*RewardRedemption, error) {
	var frame hermesFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, fmt.Errorf("decode hermes frame: %w", err)
	}
	if frame.Type != "notification" || frame.Notification == nil || frame.Notification.Type != "pubsub" {
		return nil, nil
	}

	var msg pubsubMessage
	if err := json.Unmarshal([]byte(frame.Notification.Pubsub), &msg); err != nil {
		return nil, fmt.Errorf("decode pubsub payload: %w", err)
	}
	if msg.Type != "reward-redeemed" || len(msg.Data.Redemption) == 0 {
		return nil, nil
	}

	var r RewardRedemption
	if err := json.Unmarshal(msg.Data.Redemption, &r); err != nil {
		return nil, fmt.Errorf("decode redemption: %w", err)
	}
	if err := json.Unmarshal(msg.Data.Redemption, &r.Raw); err != nil {
		return nil, fmt.Errorf("decode redemption: %w", err)
	}
	return &r, nil
}

// SubscribedTopic returns the pubsub topic of an outgoing subscribe frame.
func SubscribedTopic(payload []byte) (string, bool) {
	var frame hermesFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return "", false
	}
	if frame.Type != "subscribe" || frame.Subscribe == nil || frame.Subscribe.Type != "pubsub" || frame.Subscribe.Pubsub == nil {
		return "", false
	}
	return frame.Subscribe.Pubsub.Topic, frame.Subscribe.Pubsub.Topic != ""
}

// ChannelIDFromTopic extracts the channel id from "community-points-channel-v1.<id>".
// This is the only place that knows the topic naming.
func ChannelIDFromTopic(topic string) (string, bool) {
	name, id, ok := strings.Cut(topic, ".")
	if !ok || name != PointsTopicPrefix || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// PointsTopic builds the channel-points topic for channelID.
func PointsTopic(channelID string) string {
	return PointsTopicPrefix + "." + channelID
}

// SubscribeFrame builds the Hermes subscribe request for a pubsub topic.
func SubscribeFrame(topic string, now time.Time) ([]byte, error) {
	frame := hermesFrame{
		Type: "subscribe",
		ID:   uuid.NewString(),
		Subscribe: &hermesSubscribe{
			ID:   uuid.NewString(),
			Type: "pubsub",
			Pubsub: &struct {
				Topic string `json:"topic"`
			}{Topic: topic},
		},
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	return json.Marshal(frame)
}
