// Package youtube decodes YouTube live chat polling responses and drives the poller that
// produces them.
package youtube

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/event"
)

// LiveChatEndpoint is the polling endpoint whose responses carry chat actions.
const LiveChatEndpoint = "https://www.youtube.com/youtubei/v1/live_chat/get_live_chat"

const crossChannelRedirect = "LIVE_CHAT_BANNER_TYPE_CROSS_CHANNEL_REDIRECT"

var ErrNotJSON = errors.New("response body is not JSON")

// Action is one entry of a response's action list. Event and Err are both nil for actions
// no renderer understands.
type Action struct {
	Raw   string
	Event event.Event
	Err   error
}

// Decoder maps live chat actions to events. It is safe for concurrent use.
type Decoder struct {
	clock clock.Clock

	mu        sync.RWMutex
	channelID string
}

func NewDecoder(clk clock.Clock) *Decoder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Decoder{clock: clk}
}

// SetChannelID sets the channel stamped on decoded events.
func (d *Decoder) SetChannelID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channelID = id
}

// ChannelID returns the channel stamped on decoded events, possibly empty.
func (d *Decoder) ChannelID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channelID
}

// DecodeResponse decodes a polling response. Responses for other URLs and unsuccessful
// responses yield nothing. An absent or empty action list is not an error.
func (d *Decoder) DecodeResponse(url string, status int, body []byte) ([]Action, error) {
	if !strings.HasPrefix(url, LiveChatEndpoint) || status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrNotJSON
	}

	actions := gjson.GetBytes(body, "continuationContents.liveChatContinuation.actions").Array()
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		ev, err := d.Decode(a)
		out = append(out, Action{Raw: a.Raw, Event: ev, Err: err})
	}
	return out, nil
}

// Decode maps one action. It returns nil for actions that carry no event.
func (d *Decoder) Decode(action gjson.Result) (event.Event, error) {
	switch {
	case action.Get("addChatItemAction").Exists():
		return d.addChatItem(action.Get("addChatItemAction.item"))
	case action.Get("removeChatItemAction").Exists():
		return d.removeChatItem(action.Get("removeChatItemAction"))
	case action.Get("removeChatItemByAuthorAction").Exists():
		return d.removeByAuthor(action.Get("removeChatItemByAuthorAction"))
	case action.Get("addBannerToLiveChatCommand").Exists():
		return d.banner(action.Get("addBannerToLiveChatCommand.bannerRenderer.liveChatBannerRenderer"))
	}
	return nil, nil
}

func (d *Decoder) addChatItem(item gjson.Result) (event.Event, error) {
	if !item.Exists() {
		return nil, errors.New("addChatItemAction without item")
	}
	switch {
	case item.Get("liveChatTextMessageRenderer").Exists():
		return d.textMessage(item.Get("liveChatTextMessageRenderer"))
	case item.Get("liveChatPaidMessageRenderer").Exists():
		return d.paidMessage(item.Get("liveChatPaidMessageRenderer"))
	case item.Get("liveChatPaidStickerRenderer").Exists():
		return d.paidSticker(item.Get("liveChatPaidStickerRenderer"))
	case item.Get("liveChatMembershipItemRenderer").Exists():
		return d.membership(item.Get("liveChatMembershipItemRenderer"))
	case item.Get("liveChatSponsorshipsGiftPurchaseAnnouncementRenderer").Exists():
		return d.giftPurchase(item.Get("liveChatSponsorshipsGiftPurchaseAnnouncementRenderer"))
	}
	return nil, nil
}

func (d *Decoder) textMessage(r gjson.Result) (event.Event, error) {
	id, authorID, ts, err := itemHeader(r)
	if err != nil {
		return nil, fmt.Errorf("liveChatTextMessageRenderer: %w", err)
	}
	text, emotes := renderRuns(r.Get("message.runs"))
	return event.Message{
		Author:      d.author(r, authorID),
		MessageID:   id,
		MessageText: text,
		Emotes:      emotes,
		Timestamp:   ts,
	}, nil
}

func (d *Decoder) paidMessage(r gjson.Result) (event.Event, error) {
	id, authorID, ts, err := itemHeader(r)
	if err != nil {
		return nil, fmt.Errorf("liveChatPaidMessageRenderer: %w", err)
	}
	currency, value, err := parseAmount(r.Get("purchaseAmountText.simpleText").String())
	if err != nil {
		return nil, fmt.Errorf("liveChatPaidMessageRenderer: %w", err)
	}

	author := d.author(r, authorID)
	author.Flags = superchatFlags(r)
	text, emotes := optionalRuns(r.Get("message.runs"))
	return event.Donate{
		Author:      author,
		Value:       value,
		Currency:    currency,
		MessageID:   id,
		MessageText: text,
		Emotes:      emotes,
		Timestamp:   ts,
	}, nil
}

func (d *Decoder) paidSticker(r gjson.Result) (event.Event, error) {
	id, authorID, ts, err := itemHeader(r)
	if err != nil {
		return nil, fmt.Errorf("liveChatPaidStickerRenderer: %w", err)
	}
	currency, value, err := parseAmount(r.Get("purchaseAmountText.simpleText").String())
	if err != nil {
		return nil, fmt.Errorf("liveChatPaidStickerRenderer: %w", err)
	}
	sticker := lastURL(r.Get("sticker.thumbnails"))
	if sticker == "" {
		return nil, errors.New("liveChatPaidStickerRenderer: sticker without thumbnails")
	}

	author := d.author(r, authorID)
	author.Flags = event.Flags{event.FlagYouTubeSuperSticker: nil}
	label := r.Get("sticker.accessibility.accessibilityData.label").String()
	if label == "" {
		label = "sticker"
	}
	return event.Donate{
		Author:      author,
		Value:       value,
		Currency:    currency,
		MessageID:   id,
		MessageText: event.Ptr(fmt.Sprintf(`<img src="%s" aria-label="%s" />`, sticker, htmlEscaper.Replace(label))),
		Emotes:      []event.Emote{{ID: "sticker", Code: "sticker", URL: sticker}},
		Timestamp:   ts,
	}, nil
}

var monthsPattern = regexp.MustCompile(`\d+`)

func (d *Decoder) membership(r gjson.Result) (event.Event, error) {
	id, authorID, ts, err := itemHeader(r)
	if err != nil {
		return nil, fmt.Errorf("liveChatMembershipItemRenderer: %w", err)
	}

	// A simpleText subtext is the tier name; runs mean "Welcome to <tier>!" for a first month.
	var tier *string
	subtext := r.Get("headerSubtext")
	if s := subtext.Get("simpleText"); s.Exists() {
		tier = event.Ptr(s.String())
	} else if s := subtext.Get("runs.1.text"); s.Exists() {
		tier = event.Ptr(strings.TrimSpace(s.String()))
	}

	var months *int
	if primary := r.Get("headerPrimaryText.runs"); primary.Exists() {
		run := primary.Get("1.text")
		if !run.Exists() {
			run = primary.Get("0.text")
		}
		n, err := strconv.Atoi(monthsPattern.FindString(run.String()))
		if err != nil {
			return nil, fmt.Errorf("liveChatMembershipItemRenderer: months in %q: %w", run.String(), err)
		}
		months = event.Ptr(n)
	} else if subtext.Get("runs").Exists() {
		months = event.Ptr(1)
	}

	text, emotes := optionalRuns(r.Get("message.runs"))
	return event.Sponsor{
		Author:      d.author(r, authorID),
		Tier:        tier,
		Months:      months,
		MessageID:   id,
		MessageText: text,
		Emotes:      emotes,
		Timestamp:   ts,
	}, nil
}

func (d *Decoder) giftPurchase(r gjson.Result) (event.Event, error) {
	id, authorID, ts, err := itemHeader(r)
	if err != nil {
		return nil, fmt.Errorf("liveChatSponsorshipsGiftPurchaseAnnouncementRenderer: %w", err)
	}
	header := r.Get("header.liveChatSponsorshipsHeaderRenderer")
	count, err := strconv.Atoi(strings.TrimSpace(header.Get("primaryText.runs.1.text").String()))
	if err != nil {
		return nil, fmt.Errorf("liveChatSponsorshipsGiftPurchaseAnnouncementRenderer: gift count: %w", err)
	}
	return event.SponsorGift{
		Author:    d.author(header, authorID),
		MessageID: id,
		Count:     count,
		Timestamp: ts,
	}, nil
}

func (d *Decoder) removeChatItem(r gjson.Result) (event.Event, error) {
	target := r.Get("targetItemId").String()
	if target == "" {
		return nil, errors.New("removeChatItemAction without targetItemId")
	}
	return event.RemoveMessage{
		ChannelID: d.ChannelID(),
		Platform:  event.PlatformYouTube,
		MessageID: target,
		Timestamp: d.clock.Now().UnixMilli(),
	}, nil
}

func (d *Decoder) removeByAuthor(r gjson.Result) (event.Event, error) {
	author := r.Get("externalChannelId").String()
	if author == "" {
		return nil, errors.New("removeChatItemByAuthorAction without externalChannelId")
	}
	return event.RemoveAuthor{
		ChannelID: d.ChannelID(),
		Platform:  event.PlatformYouTube,
		AuthorID:  author,
		Timestamp: d.clock.Now().UnixMilli(),
	}, nil
}

// banner emits a raid for cross-channel redirect banners whose first run is bold. The bold
// run is the raiding channel's name; a plain first run is prose and yields nothing.
func (d *Decoder) banner(r gjson.Result) (event.Event, error) {
	if r.Get("bannerType").String() != crossChannelRedirect {
		return nil, nil
	}
	redirect := r.Get("contents.liveChatBannerRedirectRenderer")
	if !redirect.Exists() {
		return nil, nil
	}
	first := redirect.Get("bannerMessage.runs.0")
	if !first.Exists() {
		return nil, errors.New("liveChatBannerRenderer: banner message without runs")
	}
	if !first.Get("bold").Bool() {
		return nil, nil
	}
	actionID := r.Get("actionId").String()
	if actionID == "" {
		return nil, errors.New("liveChatBannerRenderer: missing actionId")
	}

	name := strings.TrimSpace(first.Get("text").String())
	display := displayName(name)
	return event.Raid{
		Author: event.Author{
			ChannelID:               d.ChannelID(),
			Platform:                event.PlatformYouTube,
			AuthorUsername:          parseUsername(name),
			AuthorDisplayName:       display,
			AuthorDisplayColor:      event.ColorFromSeed(display),
			AuthorProfilePictureURL: event.StrOrNil(lastURL(redirect.Get("authorPhoto.thumbnails"))),
			AuthorBadges:            []event.Badge{},
			AuthorType:              event.AuthorViewer,
		},
		MessageID: actionID,
		Timestamp: d.clock.Now().UnixMilli(),
	}, nil
}

// itemHeader reads the id, author channel id and timestamp every chat item carries.
func itemHeader(r gjson.Result) (id, authorID string, ts int64, err error) {
	id = r.Get("id").String()
	if id == "" {
		return "", "", 0, errors.New("missing id")
	}
	authorID = r.Get("authorExternalChannelId").String()
	if authorID == "" {
		return "", "", 0, errors.New("missing authorExternalChannelId")
	}
	usec, err := strconv.ParseInt(r.Get("timestampUsec").String(), 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("timestampUsec: %w", err)
	}
	return id, authorID, usec / 1000, nil
}

// parseAmount splits "R$ 1.234,56" into currency and value at the first digit.
func parseAmount(text string) (string, float64, error) {
	i := strings.IndexAny(text, "0123456789")
	if i < 0 {
		return "", 0, fmt.Errorf("no amount in %q", text)
	}
	return strings.TrimSpace(text[:i]), event.NormalizeValue(text[i:]), nil
}

var superchatTiers = map[string]string{
	"#1565C0FF": "1",
	"#00B8D4FF": "2",
	"#00BFA5FF": "3",
	"#FFB300FF": "4",
	"#E65100FF": "5",
	"#C2185BFF": "6",
	"#D00000FF": "7",
}

func superchatFlags(r gjson.Result) event.Flags {
	flags := event.Flags{}
	for key, path := range map[string]string{
		event.FlagYouTubePrimaryBackground:   "headerBackgroundColor",
		event.FlagYouTubePrimaryText:         "headerTextColor",
		event.FlagYouTubeSecondaryBackground: "bodyBackgroundColor",
		event.FlagYouTubeSecondaryText:       "bodyTextColor",
	} {
		if v := r.Get(path); v.Exists() {
			flags[key] = event.Ptr(argbToHex(v.Uint()))
		}
	}
	if bg := flags[event.FlagYouTubePrimaryBackground]; bg != nil {
		if tier, ok := superchatTiers[*bg]; ok {
			flags[event.FlagYouTubeSuperchatTier] = event.Ptr(tier)
		}
	}
	return flags
}

// argbToHex converts YouTube's ARGB integer colors to #RRGGBBAA.
func argbToHex(argb uint64) string {
	return fmt.Sprintf("#%02X%02X%02X%02X", (argb>>16)&0xFF, (argb>>8)&0xFF, argb&0xFF, (argb>>24)&0xFF)
}
