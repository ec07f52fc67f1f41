package event

import (
	"encoding/json"
	"regexp"
	"testing"
)

func TestColorFromSeedStable(t *testing.T) {
	hex := regexp.MustCompile(`^#[0-9A-F]{6}$`)
	a := ColorFromSeed("someviewer")
	if !hex.MatchString(a) {
		t.Fatalf("ColorFromSeed() = %q, not #RRGGBB", a)
	}
	if b := ColorFromSeed("someviewer"); a != b {
		t.Fatalf("not stable: %q vs %q", a, b)
	}
	if ColorFromSeed("") != "#1C9DC5" {
		t.Fatalf("empty seed = %q, want FNV offset basis color #1C9DC5", ColorFromSeed(""))
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := map[string]float64{
		"5.00":      5,
		"1,234.56":  1234.56,
		"1.234,56":  1234.56,
		"10,50":     10.5,
		"1.000":     1000,
		"1,000,000": 1000000,
		"₩10,000":   10000,
		"":          0,
		"abc":       0,
	}
	for in, want := range tests {
		if got := NormalizeValue(in); got != want {
			t.Errorf("NormalizeValue(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMessageJSONShape(t *testing.T) {
	msg := Message{
		Author: Author{
			ChannelID:          "123",
			Platform:           PlatformTwitch,
			AuthorID:           "42",
			AuthorUsername:     StrOrNil("viewer"),
			AuthorDisplayName:  "Viewer",
			AuthorDisplayColor: "#FFFFFF",
			AuthorBadges:       []Badge{},
			AuthorType:         AuthorViewer,
		},
		MessageID:   "abc",
		MessageText: "hi",
		Emotes:      []Emote{},
		Timestamp:   1700000000000,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"channelId", "platform", "authorId", "authorUsername", "authorBadges", "authorType", "messageId", "timestamp"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if m["authorProfilePictureUrl"] != nil {
		t.Errorf("authorProfilePictureUrl = %v, want null", m["authorProfilePictureUrl"])
	}
	if _, ok := m["flags"]; ok {
		t.Errorf("empty flags should be omitted")
	}
}

func TestIsContent(t *testing.T) {
	if !IsContent("sponsor_gift") || !IsContent("clear") {
		t.Fatal("content types not recognized")
	}
	if IsContent("ping") || IsContent("ready") {
		t.Fatal("lifecycle types treated as content")
	}
}
