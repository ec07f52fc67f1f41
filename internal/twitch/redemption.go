package twitch

import (
	"fmt"
	"sync"
	"time"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/event"
)

// DefaultJoinWindow is how long one half of a redemption waits for the other.
const DefaultJoinWindow = 10 * time.Second

// NewRedemption normalizes a Hermes redemption.
func NewRedemption(r *RewardRedemption) (event.Redemption, error) {
	redeemed, err := time.Parse(time.RFC3339, r.RedeemedAt)
	if err != nil {
		return event.Redemption{}, fmt.Errorf("parse redeemed_at: %w", err)
	}
	display := r.User.DisplayName
	if display == "" {
		display = r.User.Login
	}

	return event.Redemption{
		Author: event.Author{
			ChannelID:          r.ChannelID,
			Platform:           event.PlatformTwitch,
			AuthorID:           r.User.ID,
			AuthorUsername:     event.StrOrNil(r.User.Login),
			AuthorDisplayName:  display,
			AuthorDisplayColor: event.ColorFromSeed(r.User.Login),
			AuthorBadges:       []event.Badge{},
			AuthorType:         event.AuthorViewer,
		},
		RewardID:          r.Reward.ID,
		RewardTitle:       r.Reward.Title,
		RewardDescription: r.Reward.Prompt,
		RewardCost:        r.Reward.Cost,
		RewardIconURL:     r.IconURL(),
		MessageID:         r.ID,
		MessageText:       r.UserInput,
		Emotes:            []event.Emote{},
		RewardRedemption:  r.Raw,
		Timestamp:         redeemed.UnixMilli(),
	}, nil
}

type pendingRedemption struct {
	ev event.Redemption
	at time.Time
}

type pendingMessage struct {
	msg PendingReward
	at  time.Time
}

// RedemptionJoiner pairs a redemption that carries user input with the chat message
// Twitch sends for it. The two arrive on independent sockets in either order.
type RedemptionJoiner struct {
	window time.Duration
	clock  clock.Clock

	mu          sync.Mutex
	redemptions map[string][]pendingRedemption
	messages    map[string][]pendingMessage
}

// NewRedemptionJoiner creates a joiner holding each half for window.
func NewRedemptionJoiner(window time.Duration, clk clock.Clock) *RedemptionJoiner {
	if window <= 0 {
		window = DefaultJoinWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &RedemptionJoiner{
		window:      window,
		clock:       clk,
		redemptions: map[string][]pendingRedemption{},
		messages:    map[string][]pendingMessage{},
	}
}

func joinKey(rewardID, userID string) string { return rewardID + "/" + userID }

// AddRedemption returns the event to emit now, if any. Redemptions without user input are
// returned immediately.
func (j *RedemptionJoiner) AddRedemption(ev event.Redemption) (event.Redemption, bool) {
	if ev.MessageText == nil || *ev.MessageText == "" {
		return ev, true
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	key := joinKey(ev.RewardID, ev.AuthorID)
	if queue := j.messages[key]; len(queue) > 0 {
		j.messages[key] = queue[1:]
		if len(j.messages[key]) == 0 {
			delete(j.messages, key)
		}
		return merge(ev, queue[0].msg), true
	}
	j.redemptions[key] = append(j.redemptions[key], pendingRedemption{ev: ev, at: j.clock.Now()})
	return event.Redemption{}, false
}

// AddMessage returns the joined redemption if its Hermes half already arrived.
func (j *RedemptionJoiner) AddMessage(p PendingReward) (event.Redemption, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := joinKey(p.RewardID, p.Message.AuthorID)
	if queue := j.redemptions[key]; len(queue) > 0 {
		j.redemptions[key] = queue[1:]
		if len(j.redemptions[key]) == 0 {
			delete(j.redemptions, key)
		}
		return merge(queue[0].ev, p), true
	}
	j.messages[key] = append(j.messages[key], pendingMessage{msg: p, at: j.clock.Now()})
	return event.Redemption{}, false
}

// Expire returns redemptions whose chat message never arrived within the window and
// drops chat halves whose redemption never arrived.
func (j *RedemptionJoiner) Expire() []event.Redemption {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.clock.Now().Add(-j.window)
	var expired []event.Redemption
	for key, queue := range j.redemptions {
		kept := queue[:0]
		for _, p := range queue {
			if p.at.After(cutoff) {
				kept = append(kept, p)
			} else {
				expired = append(expired, p.ev)
			}
		}
		if len(kept) == 0 {
			delete(j.redemptions, key)
		} else {
			j.redemptions[key] = kept
		}
	}
	for key, queue := range j.messages {
		kept := queue[:0]
		for _, p := range queue {
			if p.at.After(cutoff) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(j.messages, key)
		} else {
			j.messages[key] = kept
		}
	}
	return expired
}

// Pending returns the number of unmatched halves.
func (j *RedemptionJoiner) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, q := range j.redemptions {
		n += len(q)
	}
	for _, q := range j.messages {
		n += len(q)
	}
	return n
}

// merge enriches the redemption with what only the chat message knows.
func merge(ev event.Redemption, p PendingReward) event.Redemption {
	msg := p.Message
	text := msg.MessageText
	ev.MessageText = &text
	ev.Emotes = msg.Emotes
	ev.ChannelName = msg.ChannelName
	ev.AuthorBadges = msg.AuthorBadges
	ev.AuthorType = msg.AuthorType
	ev.AuthorDisplayColor = msg.AuthorDisplayColor
	ev.Flags = msg.Flags
	return ev
}
