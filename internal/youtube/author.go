package youtube

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/john/unichat/internal/event"
)

// Author colors follow badge precedence.
const (
	ColorBroadcaster = "#ffd600"
	ColorModerator   = "#5e84f1"
	ColorSponsor     = "#2ba640"
	ColorViewer      = "#ffffffb2"
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.-]{3,30}$`)

// parseUsername returns the handle behind an "@handle" display name, or nil when the name
// is not a handle.
func parseUsername(name string) *string {
	handle, ok := strings.CutPrefix(name, "@")
	if !ok || !usernamePattern.MatchString(handle) {
		return nil
	}
	return &handle
}

func displayName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "@")
}

func hasBadge(badges []event.Badge, code string) bool {
	for _, b := range badges {
		if b.Code == code {
			return true
		}
	}
	return false
}

// classify derives author type and color: broadcaster > moderator > sponsor > viewer.
func classify(badges []event.Badge) (event.AuthorType, string) {
	switch {
	case hasBadge(badges, "broadcaster"):
		return event.AuthorBroadcaster, ColorBroadcaster
	case hasBadge(badges, "moderator"):
		return event.AuthorModerator, ColorModerator
	case hasBadge(badges, "sponsor"):
		return event.AuthorSponsor, ColorSponsor
	}
	return event.AuthorViewer, ColorViewer
}

// author reads the author fields shared by chat item renderers. r must carry authorName,
// authorPhoto and authorBadges; the channel id of the author is passed separately because
// gift announcements keep it outside the header.
func (d *Decoder) author(r gjson.Result, authorID string) event.Author {
	name := r.Get("authorName.simpleText").String()
	badges := parseBadges(r.Get("authorBadges"), r.Get("beforeContentButtons"))
	typ, color := classify(badges)

	return event.Author{
		ChannelID:               d.ChannelID(),
		Platform:                event.PlatformYouTube,
		AuthorID:                authorID,
		AuthorUsername:          parseUsername(name),
		AuthorDisplayName:       displayName(name),
		AuthorDisplayColor:      color,
		AuthorProfilePictureURL: event.StrOrNil(lastURL(r.Get("authorPhoto.thumbnails"))),
		AuthorBadges:            badges,
		AuthorType:              typ,
	}
}

// lastURL returns the url of the last (largest) thumbnail.
func lastURL(thumbnails gjson.Result) string {
	arr := thumbnails.Array()
	if len(arr) == 0 {
		return ""
	}
	return arr[len(arr)-1].Get("url").String()
}
