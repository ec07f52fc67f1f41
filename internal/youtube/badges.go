package youtube

import (
	"embed"
	"encoding/base64"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/john/unichat/internal/event"
)

// Icon and leaderboard badges carry no image in the payload; they are served as data URIs.
//
//go:embed assets/*.png
var badgeAssets embed.FS

var (
	badgeURLBroadcaster       = badgeDataURI("broadcaster.png")
	badgeURLModerator         = badgeDataURI("moderator.png")
	badgeURLVerified          = badgeDataURI("verified.png")
	badgeURLArtist            = badgeDataURI("artist.png")
	badgeURLLeaderboardFirst  = badgeDataURI("leaderboard-first.png")
	badgeURLLeaderboardSecond = badgeDataURI("leaderboard-second.png")
	badgeURLLeaderboardThird  = badgeDataURI("leaderboard-third.png")
)

func badgeDataURI(name string) string {
	data, err := badgeAssets.ReadFile("assets/" + name)
	if err != nil {
		panic("youtube: missing badge asset " + name)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// parseBadges maps liveChatAuthorBadgeRenderer entries in order, followed by the
// leaderboard crown from beforeContentButtons. Custom thumbnails are membership badges;
// icon badges are matched case-insensitively.
func parseBadges(badges, beforeContent gjson.Result) []event.Badge {
	out := []event.Badge{}
	badges.ForEach(func(_, b gjson.Result) bool {
		r := b.Get("liveChatAuthorBadgeRenderer")
		if thumbs := r.Get("customThumbnail.thumbnails"); thumbs.Exists() {
			out = append(out, event.Badge{Code: "sponsor", URL: lastURL(thumbs)})
			return true
		}
		switch strings.ToLower(r.Get("icon.iconType").String()) {
		case "owner":
			out = append(out, event.Badge{Code: "broadcaster", URL: badgeURLBroadcaster})
		case "moderator":
			out = append(out, event.Badge{Code: "moderator", URL: badgeURLModerator})
		case "verified":
			out = append(out, event.Badge{Code: "verified", URL: badgeURLVerified})
		case "verified_artist":
			out = append(out, event.Badge{Code: "verified-artist", URL: badgeURLArtist})
		}
		return true
	})

	beforeContent.ForEach(func(_, b gjson.Result) bool {
		model := b.Get("buttonViewModel")
		if model.Get("iconName").String() != "CROWN" {
			return true
		}
		switch model.Get("title").String() {
		case "#1":
			out = append(out, event.Badge{Code: "youtube-leaderboard-first", URL: badgeURLLeaderboardFirst})
		case "#2":
			out = append(out, event.Badge{Code: "youtube-leaderboard-second", URL: badgeURLLeaderboardSecond})
		case "#3":
			out = append(out, event.Badge{Code: "youtube-leaderboard-third", URL: badgeURLLeaderboardThird})
		}
		return true
	})
	return out
}
