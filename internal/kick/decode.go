// Package kick scrapes Kick chat through the kick-chat-wrapper Pusher client.
package kick

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/john/unichat/internal/event"
)

// EmoteURL is the image of a Kick emote, followed by its id and "/fullsize".
const EmoteURL = "https://files.kick.com/emotes/"

// messageNamespace scopes the deterministic message ids.
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://kick.com/"))

var emotePattern = regexp.MustCompile(`\[emote:(\d+):([^\]]+)\]`)

// ChatFrame is a chat message as it crosses the port.
type ChatFrame struct {
	ChatroomID int          `json:"chatroomId"`
	SenderID   int          `json:"senderId"`
	Username   string       `json:"username"`
	Badges     []BadgeFrame `json:"badges,omitempty"`
	Content    string       `json:"content"`
	CreatedAt  time.Time    `json:"createdAt"`
}

type BadgeFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// DecodeFrame parses a frame written by the connector.
func DecodeFrame(payload []byte) (ChatFrame, error) {
	var f ChatFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return ChatFrame{}, fmt.Errorf("decode kick frame: %w", err)
	}
	if f.ChatroomID == 0 || f.SenderID == 0 {
		return ChatFrame{}, fmt.Errorf("decode kick frame: missing chatroom or sender")
	}
	return f, nil
}

// MessageID derives a stable id for f. Kick's wrapper does not expose the platform id, so
// the same message seen twice maps to the same id.
func MessageID(f ChatFrame) string {
	key := fmt.Sprintf("%d:%d:%d:%s", f.ChatroomID, f.SenderID, f.CreatedAt.UnixMilli(), f.Content)
	return uuid.NewSHA1(messageNamespace, []byte(key)).String()
}

// Decode maps a chat frame to a message event. now stamps frames without a creation time.
func Decode(f ChatFrame, channel Channel, now time.Time) event.Message {
	text, emotes := renderEmotes(f.Content)

	ts := f.CreatedAt.UnixMilli()
	if f.CreatedAt.IsZero() {
		ts = now.UnixMilli()
	}

	badges := make([]event.Badge, 0, len(f.Badges))
	for _, b := range f.Badges {
		code := b.Type
		if b.Text != "" {
			code = b.Type + ":" + b.Text
		}
		badges = append(badges, event.Badge{Code: code})
	}

	return event.Message{
		Author: event.Author{
			ChannelID:          strconv.Itoa(f.ChatroomID),
			ChannelName:        event.StrOrNil(channel.Slug),
			Platform:           event.PlatformKick,
			AuthorID:           strconv.Itoa(f.SenderID),
			AuthorUsername:     event.StrOrNil(strings.ToLower(f.Username)),
			AuthorDisplayName:  f.Username,
			AuthorDisplayColor: event.ColorFromSeed(f.Username),
			AuthorBadges:       badges,
			AuthorType:         authorType(f.Badges),
		},
		MessageID:   MessageID(f),
		MessageText: text,
		Emotes:      emotes,
		Timestamp:   ts,
	}
}

// renderEmotes replaces [emote:id:name] tokens with the emote name and collects one Emote
// per distinct id.
func renderEmotes(content string) (string, []event.Emote) {
	emotes := []event.Emote{}
	seen := map[string]bool{}
	text := emotePattern.ReplaceAllStringFunc(content, func(token string) string {
		m := emotePattern.FindStringSubmatch(token)
		id, name := m[1], m[2]
		if !seen[id] {
			seen[id] = true
			emotes = append(emotes, event.Emote{ID: id, Code: name, URL: EmoteURL + id + "/fullsize"})
		}
		return name
	})
	return text, emotes
}

func authorType(badges []BadgeFrame) event.AuthorType {
	rank := event.AuthorViewer
	for _, b := range badges {
		switch b.Type {
		case "broadcaster":
			return event.AuthorBroadcaster
		case "moderator":
			rank = event.AuthorModerator
		case "vip":
			if rank != event.AuthorModerator {
				rank = event.AuthorVIP
			}
		case "subscriber", "founder", "og":
			if rank == event.AuthorViewer {
				rank = event.AuthorSponsor
			}
		}
	}
	return rank
}
