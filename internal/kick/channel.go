package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/john/unichat/internal/scraper"
)

// ChannelEndpoint is the public channel API, followed by the slug.
const ChannelEndpoint = "https://kick.com/api/v2/channels/"

// channelResponse is the part of the channel API response we use.
type channelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// Channel is a Kick channel and the chatroom its chat lives in.
type Channel struct {
	Slug       string
	ChannelID  int // 0 when the chatroom was pre-configured
	ChatroomID int
}

// ResolveChannel fetches the chatroom id of slug from the Kick API.
func ResolveChannel(ctx context.Context, client *http.Client, slug string) (Channel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ChannelEndpoint+url.PathEscape(slug), nil)
	if err != nil {
		return Channel{}, fmt.Errorf("create request: %w", err)
	}

	// The API sits behind Cloudflare, which rejects requests that do not look like a browser.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("sec-ch-ua", `"Chromium";v="143", "Not.A/Brand";v="24", "Google Chrome";v="143"`)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"Windows"`)

	resp, err := client.Do(req)
	if err != nil {
		return Channel{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Channel{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var info channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Channel{}, fmt.Errorf("JSON decode failed: %w", err)
	}
	if info.Chatroom.ID == 0 {
		return Channel{}, fmt.Errorf("channel %q has no chatroom", slug)
	}
	if info.Slug == "" {
		info.Slug = slug
	}
	return Channel{Slug: info.Slug, ChannelID: info.ID, ChatroomID: info.Chatroom.ID}, nil
}

var reservedPaths = map[string]bool{
	"browse": true, "categories": true, "following": true, "search": true,
	"settings": true, "dashboard": true, "video": true, "api": true,
}

// SlugFromURL extracts the channel slug from a Kick channel or chat popout URL.
func SlugFromURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "https" || (u.Host != "kick.com" && u.Host != "www.kick.com") {
		return "", fmt.Errorf("%w: this scraper can only be initialized on Kick pages", scraper.ErrUnsupportedPage)
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) >= 2 && segments[0] == "popout" {
		segments = segments[1:]
	}
	if len(segments) == 0 || reservedPaths[segments[0]] {
		return "", fmt.Errorf("%w: no channel in %s", scraper.ErrUnsupportedPage, target)
	}
	return strings.ToLower(segments[0]), nil
}
