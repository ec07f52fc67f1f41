package twitch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/john/unichat/internal/clock"
	"github.com/john/unichat/internal/event"
	"github.com/john/unichat/internal/irc"
)

const emoteURLFormat = "https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/3.0"

// PendingReward is a chat message bound to a channel-points reward. It is joined with the
// matching Hermes redemption instead of being emitted on its own.
type PendingReward struct {
	RewardID string
	Message  event.Message
}

func (PendingReward) EventType() event.Type { return event.TypeRedemption }
func (p PendingReward) DedupKey() string    { return p.Message.MessageID }

// Mapper turns parsed IRC lines into events.
type Mapper struct {
	badges     *BadgeStore
	cheermotes *CheermoteSet
	clock      clock.Clock
}

// NewMapper creates a mapper reading from the given stores.
func NewMapper(badges *BadgeStore, cheermotes *CheermoteSet, clk clock.Clock) *Mapper {
	if clk == nil {
		clk = clock.Real()
	}
	return &Mapper{badges: badges, cheermotes: cheermotes, clock: clk}
}

// Map returns the event carried by msg, or nil for lines that carry none.
func (m *Mapper) Map(msg irc.Message) (event.Event, error) {
	switch msg.Command.Name {
	case "PRIVMSG":
		return m.privmsg(msg)
	case "CLEARCHAT":
		return m.clearchat(msg)
	case "CLEARMSG":
		return m.clearmsg(msg)
	case "USERNOTICE":
		return m.usernotice(msg)
	}
	return nil, nil
}

func (m *Mapper) privmsg(msg irc.Message) (event.Event, error) {
	login := msg.Nick()
	if len(msg.Prefix) > 1 {
		login = msg.Prefix[1]
	}
	author, err := m.author(msg, login)
	if err != nil {
		return nil, err
	}
	id, err := required(msg, "id")
	if err != nil {
		return nil, err
	}

	text := normalizeText(msg.Trailing())
	body := m.stripCheers(text)
	emotes := parseEmotes(msg.TagOr("emotes", ""), text)
	ts := m.timestamp(msg)

	if bits, ok := msg.Tag("bits"); ok {
		value, err := strconv.ParseFloat(bits, 64)
		if err != nil {
			return nil, fmt.Errorf("parse bits %q: %w", bits, err)
		}
		return event.Donate{
			Author:      author,
			Value:       value,
			Currency:    "Bits",
			MessageID:   id,
			MessageText: &body,
			Emotes:      emotes,
			Timestamp:   ts,
		}, nil
	}

	message := event.Message{
		Author:      author,
		MessageID:   id,
		MessageText: body,
		Emotes:      emotes,
		Timestamp:   ts,
	}
	if rewardID, ok := msg.Tag("custom-reward-id"); ok && rewardID != "" {
		return PendingReward{RewardID: rewardID, Message: message}, nil
	}
	return message, nil
}

func (m *Mapper) clearchat(msg irc.Message) (event.Event, error) {
	roomID, err := required(msg, "room-id")
	if err != nil {
		return nil, err
	}
	if target, ok := msg.Tag("target-user-id"); ok && target != "" {
		return event.RemoveAuthor{
			ChannelID: roomID,
			Platform:  event.PlatformTwitch,
			Flags:     rawFlags(msg),
			AuthorID:  target,
			Timestamp: m.timestamp(msg),
		}, nil
	}
	return event.Clear{
		Platform:  event.Ptr(event.PlatformTwitch),
		Flags:     rawFlags(msg),
		Timestamp: m.timestamp(msg),
	}, nil
}

func (m *Mapper) clearmsg(msg irc.Message) (event.Event, error) {
	roomID, err := required(msg, "room-id")
	if err != nil {
		return nil, err
	}
	target, err := required(msg, "target-msg-id")
	if err != nil {
		return nil, err
	}
	return event.RemoveMessage{
		ChannelID: roomID,
		Platform:  event.PlatformTwitch,
		Flags:     rawFlags(msg),
		MessageID: target,
		Timestamp: m.timestamp(msg),
	}, nil
}

func (m *Mapper) usernotice(msg irc.Message) (event.Event, error) {
	msgID, err := required(msg, "msg-id")
	if err != nil {
		return nil, err
	}

	_, communityGift := msg.Tags["msg-param-community-gift-id"]
	switch {
	case msgID == "announcement":
		return m.noticeMessage(msg, nil)
	case msgID == "viewermilestone" && msg.TagOr("msg-param-category", "") == "watch-streak":
		days, err := required(msg, "msg-param-value")
		if err != nil {
			return nil, err
		}
		return m.noticeMessage(msg, map[string]string{event.FlagTwitchWatchStreakDays: days})
	case msgID == "submysterygift":
		count, err := requiredInt(msg, "msg-param-mass-gift-count")
		if err != nil {
			return nil, err
		}
		return m.sponsorGift(msg, count)
	case msgID == "subgift" && !communityGift:
		return m.sponsorGift(msg, 1)
	case msgID == "sub" || msgID == "resub":
		return m.sponsor(msg)
	case msgID == "raid":
		return m.raid(msg)
	}
	return nil, nil
}

func (m *Mapper) noticeMessage(msg irc.Message, extra map[string]string) (event.Event, error) {
	author, err := m.author(msg, msg.TagOr("login", msg.Nick()))
	if err != nil {
		return nil, err
	}
	id, err := required(msg, "id")
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		author.Flags[k] = event.Ptr(v)
	}

	text := normalizeText(msg.Param(1))
	return event.Message{
		Author:      author,
		MessageID:   id,
		MessageText: m.stripCheers(text),
		Emotes:      parseEmotes(msg.TagOr("emotes", ""), text),
		Timestamp:   m.timestamp(msg),
	}, nil
}

func (m *Mapper) sponsor(msg irc.Message) (event.Event, error) {
	author, err := m.author(msg, msg.TagOr("login", msg.Nick()))
	if err != nil {
		return nil, err
	}
	id, err := required(msg, "id")
	if err != nil {
		return nil, err
	}

	var months *int
	for _, key := range []string{"msg-param-cumulative-months", "msg-param-months"} {
		if n, err := strconv.Atoi(msg.TagOr(key, "")); err == nil && n > 0 {
			months = event.Ptr(n)
			break
		}
	}

	ev := event.Sponsor{
		Author:    author,
		Tier:      event.StrOrNil(msg.TagOr("msg-param-sub-plan", "")),
		Months:    months,
		MessageID: id,
		Emotes:    []event.Emote{},
		Timestamp: m.timestamp(msg),
	}
	if text := normalizeText(msg.Param(1)); text != "" {
		body := m.stripCheers(text)
		ev.MessageText = &body
		ev.Emotes = parseEmotes(msg.TagOr("emotes", ""), text)
	}
	return ev, nil
}

func (m *Mapper) sponsorGift(msg irc.Message, count int) (event.Event, error) {
	author, err := m.author(msg, msg.TagOr("login", msg.Nick()))
	if err != nil {
		return nil, err
	}
	id, err := required(msg, "id")
	if err != nil {
		return nil, err
	}
	return event.SponsorGift{
		Author:    author,
		MessageID: id,
		Tier:      event.StrOrNil(msg.TagOr("msg-param-sub-plan", "")),
		Count:     count,
		Timestamp: m.timestamp(msg),
	}, nil
}

func (m *Mapper) raid(msg irc.Message) (event.Event, error) {
	author, err := m.author(msg, msg.TagOr("msg-param-login", msg.TagOr("login", "")))
	if err != nil {
		return nil, err
	}
	id, err := required(msg, "id")
	if err != nil {
		return nil, err
	}
	if name := msg.TagOr("msg-param-displayName", ""); name != "" {
		author.AuthorDisplayName = name
	}
	author.AuthorProfilePictureURL = event.StrOrNil(msg.TagOr("msg-param-profileImageURL", ""))

	var viewers *int
	if n, err := strconv.Atoi(msg.TagOr("msg-param-viewerCount", "")); err == nil {
		viewers = event.Ptr(n)
	}
	return event.Raid{
		Author:      author,
		MessageID:   id,
		ViewerCount: viewers,
		Timestamp:   m.timestamp(msg),
	}, nil
}

func (m *Mapper) author(msg irc.Message, login string) (event.Author, error) {
	roomID, err := required(msg, "room-id")
	if err != nil {
		return event.Author{}, err
	}
	userID, err := required(msg, "user-id")
	if err != nil {
		return event.Author{}, err
	}

	display := msg.TagOr("display-name", login)
	if display == "" {
		return event.Author{}, fmt.Errorf("missing display-name tag")
	}

	color := msg.TagOr("color", "")
	if color == "" {
		seed := login
		if seed == "" {
			seed = display
		}
		color = event.ColorFromSeed(seed)
	}

	badgesTag := msg.TagOr("badges", "")
	return event.Author{
		ChannelID:          roomID,
		ChannelName:        event.StrOrNil(strings.TrimPrefix(msg.Param(0), "#")),
		Platform:           event.PlatformTwitch,
		Flags:              rawFlags(msg),
		AuthorID:           userID,
		AuthorUsername:     event.StrOrNil(login),
		AuthorDisplayName:  display,
		AuthorDisplayColor: color,
		AuthorBadges:       m.badges.Lookup(badgesTag),
		AuthorType:         authorType(badgesTag),
	}, nil
}

func (m *Mapper) timestamp(msg irc.Message) int64 {
	if ts, err := strconv.ParseInt(msg.TagOr("tmi-sent-ts", ""), 10, 64); err == nil && ts > 0 {
		return ts
	}
	return m.clock.Now().UnixMilli()
}

// stripCheers drops cheer words ("Cheer100") from the text.
func (m *Mapper) stripCheers(text string) string {
	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if !m.cheermotes.IsCheer(w) {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func authorType(badges string) event.AuthorType {
	switch {
	case strings.Contains(badges, "broadcaster"):
		return event.AuthorBroadcaster
	case strings.Contains(badges, "moderator"):
		return event.AuthorModerator
	case strings.Contains(badges, "vip"):
		return event.AuthorVIP
	case strings.Contains(badges, "subscriber"):
		return event.AuthorSponsor
	}
	return event.AuthorViewer
}

func rawFlags(msg irc.Message) event.Flags {
	flags := make(event.Flags, len(msg.Tags))
	for k, v := range msg.Tags {
		flags[event.FlagRawTwitchPrefix+k] = v
	}
	return flags
}

// normalizeText trims and unwraps "/me" action messages.
func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "\x01ACTION ") && strings.HasSuffix(text, "\x01") {
		text = strings.TrimSuffix(strings.TrimPrefix(text, "\x01ACTION "), "\x01")
	}
	return text
}

// parseEmotes reads an emotes tag ("25:0-4,12-16/1902:6-10") against text. Positions are
// rune offsets; entries pointing outside the text are skipped.
func parseEmotes(tag, text string) []event.Emote {
	emotes := []event.Emote{}
	if tag == "" {
		return emotes
	}
	runes := []rune(text)
	for _, entry := range strings.Split(tag, "/") {
		id, positions, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			continue
		}
		first, _, _ := strings.Cut(positions, ",")
		startStr, endStr, ok := strings.Cut(first, "-")
		if !ok {
			continue
		}
		start, err1 := strconv.Atoi(startStr)
		end, err2 := strconv.Atoi(endStr)
		if err1 != nil || err2 != nil || start < 0 || end < start || end >= len(runes) {
			continue
		}
		emotes = append(emotes, event.Emote{
			ID:   id,
			Code: string(runes[start : end+1]),
			URL:  fmt.Sprintf(emoteURLFormat, id),
		})
	}
	return emotes
}

func required(msg irc.Message, key string) (string, error) {
	v, ok := msg.Tag(key)
	if !ok || v == "" {
		return "", fmt.Errorf("missing %s tag", key)
	}
	return v, nil
}

func requiredInt(msg irc.Message, key string) (int, error) {
	v, err := required(msg, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
