package youtube

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// continuationFor builds a continuation token with the same nesting YouTube uses: a
// base64url outer token whose payload embeds a %3D-terminated base64 token carrying the
// channel id on its third line.
func continuationFor(channelID string) string {
	nested := "\x0a\x1a\x0a\x18" + channelID + "\x12\x0bvideo_id_xx"
	inner := strings.ReplaceAll(base64.StdEncoding.EncodeToString([]byte(nested)), "=", "%3D")
	outer := "\x0a\x2a\x0a\x1a\x0a\x18\x12\x1a\x0a" + "\x0b" + inner + "%3D\x18\x01"
	return base64.URLEncoding.EncodeToString([]byte(outer))
}

func initialDataWith(token, kind string) []byte {
	return []byte(`{"contents":{"liveChatRenderer":{"continuations":[{"` + kind + `":{"continuation":"` + token + `","timeoutMs":5000}}]}}}`)
}

func TestResolveChannelID(t *testing.T) {
	for _, kind := range []string{"timedContinuationData", "invalidationContinuationData"} {
		t.Run(kind, func(t *testing.T) {
			got, err := ResolveChannelID(initialDataWith(continuationFor(testChannelID), kind))
			if err != nil {
				t.Fatalf("ResolveChannelID: %v", err)
			}
			if got != testChannelID {
				t.Fatalf("got %q, want %q", got, testChannelID)
			}
		})
	}
}

func TestResolveChannelIDFailures(t *testing.T) {
	t.Run("no continuation", func(t *testing.T) {
		_, err := ResolveChannelID([]byte(`{"contents":{}}`))
		if !errors.Is(err, ErrNoContinuation) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := ResolveChannelID(initialDataWith(continuationFor("not-a-channel-id"), "timedContinuationData"))
		if !errors.Is(err, ErrNoChannelID) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := ResolveChannelID(initialDataWith("!!!", "timedContinuationData")); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestIsValidChannelID(t *testing.T) {
	tests := map[string]bool{
		testChannelID:              true,
		"UCabcdefghijklmnopqrstuB": false,
		"UCabcdefghijklmnopqrstu":  false,
		"UXabcdefghijklmnopqrstuA": false,
		"UC-_cdefghijklmnopqrstuw": true,
	}
	for id, want := range tests {
		if got := IsValidChannelID(id); got != want {
			t.Errorf("IsValidChannelID(%q) = %v, want %v", id, got, want)
		}
	}
}
