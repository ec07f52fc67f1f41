package kick

import (
	"strings"
	"testing"
	"time"

	"github.com/john/unichat/internal/event"
)

var sentAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecode(t *testing.T) {
	f := ChatFrame{
		ChatroomID: 668,
		SenderID:   1234,
		Username:   "SomeViewer",
		Badges:     []BadgeFrame{{Type: "subscriber", Text: "Subscriber"}, {Type: "vip"}},
		Content:    "hi [emote:37226:KEKW] again [emote:37226:KEKW] [emote:39261:kkHuh]",
		CreatedAt:  sentAt,
	}
	msg := Decode(f, Channel{Slug: "xqc", ChatroomID: 668}, time.Time{})

	if msg.MessageText != "hi KEKW again KEKW kkHuh" {
		t.Errorf("text = %q", msg.MessageText)
	}
	if len(msg.Emotes) != 2 || msg.Emotes[0].ID != "37226" || msg.Emotes[0].Code != "KEKW" || msg.Emotes[1].Code != "kkHuh" {
		t.Errorf("emotes = %+v", msg.Emotes)
	}
	if msg.Emotes[0].URL != "https://files.kick.com/emotes/37226/fullsize" {
		t.Errorf("emote url = %s", msg.Emotes[0].URL)
	}
	if msg.AuthorType != event.AuthorVIP {
		t.Errorf("author type = %s", msg.AuthorType)
	}
	if msg.ChannelID != "668" || *msg.ChannelName != "xqc" || msg.Platform != event.PlatformKick {
		t.Errorf("channel = %s %v %s", msg.ChannelID, msg.ChannelName, msg.Platform)
	}
	if msg.AuthorID != "1234" || *msg.AuthorUsername != "someviewer" || msg.AuthorDisplayName != "SomeViewer" {
		t.Errorf("author = %s %v %s", msg.AuthorID, msg.AuthorUsername, msg.AuthorDisplayName)
	}
	if msg.AuthorDisplayColor != event.ColorFromSeed("SomeViewer") {
		t.Errorf("color = %s", msg.AuthorDisplayColor)
	}
	if len(msg.AuthorBadges) != 2 || msg.AuthorBadges[0].Code != "subscriber:Subscriber" || msg.AuthorBadges[1].Code != "vip" {
		t.Errorf("badges = %+v", msg.AuthorBadges)
	}
	if msg.Timestamp != sentAt.UnixMilli() {
		t.Errorf("timestamp = %d", msg.Timestamp)
	}
}

func TestDecodeWithoutCreationTime(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	msg := Decode(ChatFrame{ChatroomID: 1, SenderID: 2, Username: "a", Content: "plain"}, Channel{}, now)
	if msg.Timestamp != now.UnixMilli() {
		t.Errorf("timestamp = %d", msg.Timestamp)
	}
	if msg.ChannelName != nil {
		t.Errorf("channel name = %v, want nil", *msg.ChannelName)
	}
	if msg.Emotes == nil || len(msg.Emotes) != 0 {
		t.Errorf("emotes = %#v, want empty", msg.Emotes)
	}
}

func TestMessageIDIsDeterministic(t *testing.T) {
	f := ChatFrame{ChatroomID: 668, SenderID: 1234, Content: "hello", CreatedAt: sentAt}
	id := MessageID(f)
	if id != MessageID(f) {
		t.Fatal("same frame produced different ids")
	}
	if len(id) != 36 || id[14] != '5' {
		t.Errorf("id = %s, want a version 5 uuid", id)
	}

	other := f
	other.Content = "hello!"
	if MessageID(other) == id {
		t.Error("different content produced the same id")
	}
}

func TestAuthorType(t *testing.T) {
	tests := []struct {
		badges []string
		want   event.AuthorType
	}{
		{nil, event.AuthorViewer},
		{[]string{"verified"}, event.AuthorViewer},
		{[]string{"og"}, event.AuthorSponsor},
		{[]string{"subscriber", "vip"}, event.AuthorVIP},
		{[]string{"moderator", "vip"}, event.AuthorModerator},
		{[]string{"vip", "moderator", "subscriber"}, event.AuthorModerator},
		{[]string{"moderator", "broadcaster"}, event.AuthorBroadcaster},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.badges, ","), func(t *testing.T) {
			var badges []BadgeFrame
			for _, b := range tt.badges {
				badges = append(badges, BadgeFrame{Type: b})
			}
			if got := authorType(badges); got != tt.want {
				t.Fatalf("authorType = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"chatroomId":1,"senderId":2,"content":"x"}`)); err != nil {
		t.Errorf("valid frame: %v", err)
	}
	for _, bad := range []string{`not json`, `{"chatroomId":1}`, `{}`} {
		if _, err := DecodeFrame([]byte(bad)); err == nil {
			t.Errorf("DecodeFrame(%s) succeeded", bad)
		}
	}
}
