// Package event defines the normalized chat events every platform decoder produces.
package event

// Type identifies a UniChatEvent variant.
type Type string

const (
	TypeMessage       Type = "message"
	TypeDonate        Type = "donate"
	TypeSponsor       Type = "sponsor"
	TypeSponsorGift   Type = "sponsor_gift"
	TypeRaid          Type = "raid"
	TypeRedemption    Type = "redemption"
	TypeRemoveMessage Type = "remove_message"
	TypeRemoveAuthor  Type = "remove_author"
	TypeClear         Type = "clear"
)

// IsContent reports whether t names a UniChatEvent variant rather than a lifecycle signal.
func IsContent(t string) bool {
	switch Type(t) {
	case TypeMessage, TypeDonate, TypeSponsor, TypeSponsorGift, TypeRaid,
		TypeRedemption, TypeRemoveMessage, TypeRemoveAuthor, TypeClear:
		return true
	}
	return false
}

// Platform is the source platform of an event.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
)

// AuthorType ranks the author within the channel.
type AuthorType string

const (
	AuthorViewer      AuthorType = "VIEWER"
	AuthorSponsor     AuthorType = "SPONSOR"
	AuthorVIP         AuthorType = "VIP"
	AuthorModerator   AuthorType = "MODERATOR"
	AuthorBroadcaster AuthorType = "BROADCASTER"
)

// Badge is an author badge image.
type Badge struct {
	Code string `json:"code"`
	URL  string `json:"url"`
}

// Emote is an inline emote referenced by a message.
type Emote struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	URL  string `json:"url"`
}

// Flags carries platform-specific extras, e.g. raw tags under "unichat:raw:twitch:<key>".
type Flags map[string]*string

const (
	FlagRawTwitchPrefix            = "unichat:raw:twitch:"
	FlagTwitchWatchStreakDays      = "unichat:twitch_watch_streak_days"
	FlagYouTubeSuperSticker        = "unichat:youtube_super_sticker"
	FlagYouTubeSuperchatTier       = "unichat:youtube_superchat_tier"
	FlagYouTubePrimaryBackground   = "unichat:youtube_superchat_primary_background_color"
	FlagYouTubePrimaryText         = "unichat:youtube_superchat_primary_text_color"
	FlagYouTubeSecondaryBackground = "unichat:youtube_superchat_secondary_background_color"
	FlagYouTubeSecondaryText       = "unichat:youtube_superchat_secondary_text_color"
)

// Event is implemented by every UniChatEvent variant.
type Event interface {
	EventType() Type
	// DedupKey is the identifier consumers deduplicate on. Empty for variants that carry none.
	DedupKey() string
}

// Author holds the fields shared by author-bearing variants.
type Author struct {
	ChannelID               string     `json:"channelId"`
	ChannelName             *string    `json:"channelName"`
	Platform                Platform   `json:"platform"`
	Flags                   Flags      `json:"flags,omitempty"`
	AuthorID                string     `json:"authorId"`
	AuthorUsername          *string    `json:"authorUsername"`
	AuthorDisplayName       string     `json:"authorDisplayName"`
	AuthorDisplayColor      string     `json:"authorDisplayColor"`
	AuthorProfilePictureURL *string    `json:"authorProfilePictureUrl"`
	AuthorBadges            []Badge    `json:"authorBadges"`
	AuthorType              AuthorType `json:"authorType"`
}

// Message is a plain chat message.
type Message struct {
	Author
	MessageID   string  `json:"messageId"`
	MessageText string  `json:"messageText"`
	Emotes      []Emote `json:"emotes"`
	Timestamp   int64   `json:"timestamp"`
}

func (Message) EventType() Type    { return TypeMessage }
func (e Message) DedupKey() string { return e.MessageID }

// Donate is a paid message: bits, a superchat or a paid sticker. Value is in Currency units.
type Donate struct {
	Author
	Value       float64 `json:"value"`
	Currency    string  `json:"currency"`
	MessageID   string  `json:"messageId"`
	MessageText *string `json:"messageText"`
	Emotes      []Emote `json:"emotes"`
	Timestamp   int64   `json:"timestamp"`
}

func (Donate) EventType() Type    { return TypeDonate }
func (e Donate) DedupKey() string { return e.MessageID }

// Sponsor is a new or renewed subscription or membership. Months is nil when unknown.
type Sponsor struct {
	Author
	Tier        *string `json:"tier"`
	Months      *int    `json:"months"`
	MessageID   string  `json:"messageId"`
	MessageText *string `json:"messageText"`
	Emotes      []Emote `json:"emotes"`
	Timestamp   int64   `json:"timestamp"`
}

func (Sponsor) EventType() Type    { return TypeSponsor }
func (e Sponsor) DedupKey() string { return e.MessageID }

// SponsorGift announces Count gifted subscriptions bought by the author.
type SponsorGift struct {
	Author
	MessageID string  `json:"messageId"`
	Tier      *string `json:"tier"`
	Count     int     `json:"count"`
	Timestamp int64   `json:"timestamp"`
}

func (SponsorGift) EventType() Type    { return TypeSponsorGift }
func (e SponsorGift) DedupKey() string { return e.MessageID }

// Raid is an incoming raid led by the author. ViewerCount is nil on YouTube.
type Raid struct {
	Author
	MessageID   string `json:"messageId"`
	ViewerCount *int   `json:"viewerCount"`
	Timestamp   int64  `json:"timestamp"`
}

func (Raid) EventType() Type    { return TypeRaid }
func (e Raid) DedupKey() string { return e.MessageID }

// Redemption is a channel-points reward redemption. RewardRedemption passes the platform
// payload through untouched.
type Redemption struct {
	Author
	RewardID          string         `json:"rewardId"`
	RewardTitle       string         `json:"rewardTitle"`
	RewardDescription *string        `json:"rewardDescription"`
	RewardCost        int            `json:"rewardCost"`
	RewardIconURL     string         `json:"rewardIconUrl"`
	MessageID         string         `json:"messageId"`
	MessageText       *string        `json:"messageText"`
	Emotes            []Emote        `json:"emotes"`
	RewardRedemption  map[string]any `json:"rewardRedemption,omitempty"`
	Timestamp         int64          `json:"timestamp"`
}

func (Redemption) EventType() Type    { return TypeRedemption }
func (e Redemption) DedupKey() string { return e.MessageID }

// RemoveMessage retracts one message.
type RemoveMessage struct {
	ChannelID string   `json:"channelId"`
	Platform  Platform `json:"platform"`
	Flags     Flags    `json:"flags,omitempty"`
	MessageID string   `json:"messageId"`
	Timestamp int64    `json:"timestamp"`
}

func (RemoveMessage) EventType() Type    { return TypeRemoveMessage }
func (e RemoveMessage) DedupKey() string { return "remove_message:" + e.MessageID }

// RemoveAuthor retracts every message of an author, after a ban or timeout.
type RemoveAuthor struct {
	ChannelID string   `json:"channelId"`
	Platform  Platform `json:"platform"`
	Flags     Flags    `json:"flags,omitempty"`
	AuthorID  string   `json:"authorId"`
	Timestamp int64    `json:"timestamp"`
}

func (RemoveAuthor) EventType() Type    { return TypeRemoveAuthor }
func (e RemoveAuthor) DedupKey() string { return "" }

// Clear wipes the whole chat.
type Clear struct {
	Platform  *Platform `json:"platform"`
	Flags     Flags     `json:"flags,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

func (Clear) EventType() Type    { return TypeClear }
func (e Clear) DedupKey() string { return "" }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// StrOrNil returns nil for an empty string.
func StrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
