package youtube

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrNoContinuation = errors.New("no live chat continuation")
	ErrNoChannelID    = errors.New("channel id not found")
)

var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{21}[AQgw]$`)

// IsValidChannelID reports whether id looks like a YouTube channel id.
func IsValidChannelID(id string) bool {
	return channelIDPattern.MatchString(id)
}

// ResolveChannelID recovers the channel id from a live chat page's ytInitialData. The id is
// buried in the protobuf behind the first continuation token; nothing else in this package
// depends on that layout.
func ResolveChannelID(initialData []byte) (string, error) {
	token := initialContinuation(gjson.ParseBytes(initialData))
	if token == "" {
		return "", ErrNoContinuation
	}

	outer, err := decodeTokenBase64(token)
	if err != nil {
		return "", fmt.Errorf("decode continuation: %w", err)
	}

	head, _, _ := strings.Cut(string(outer), "%3D")
	inner := head + "%3D"
	if len(inner) <= 10 {
		return "", ErrNoChannelID
	}
	nested, err := decodeTokenBase64(inner[10:])
	if err != nil {
		return "", fmt.Errorf("decode nested continuation: %w", err)
	}

	lines := strings.Split(string(nested), "\n")
	if len(lines) < 3 {
		return "", ErrNoChannelID
	}
	line := strings.Replace(lines[2], "\x18", "", 1)
	id, _, _ := strings.Cut(line, "\x12")
	if !IsValidChannelID(id) {
		return "", fmt.Errorf("%w: got %q", ErrNoChannelID, id)
	}
	return id, nil
}

// initialContinuation returns the first continuation token of the live chat renderer.
func initialContinuation(data gjson.Result) string {
	c := data.Get("contents.liveChatRenderer.continuations.0")
	if token := c.Get("timedContinuationData.continuation").String(); token != "" {
		return token
	}
	return c.Get("invalidationContinuationData.continuation").String()
}

// decodeTokenBase64 accepts URL-escaped, URL-safe and unpadded base64.
func decodeTokenBase64(s string) ([]byte, error) {
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimRight(s, "=")
	return base64.RawStdEncoding.DecodeString(s)
}
