package twitch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// GQLEndpoint is Twitch's GraphQL endpoint.
const GQLEndpoint = "https://gql.twitch.tv/gql"

// Badge scopes.
const (
	ScopeGlobal = "global"
	ScopeUser   = "user"
)

// GQLBadge is a badge as returned by the badges queries.
type GQLBadge struct {
	ID      string `json:"id"`
	SetID   string `json:"setID"`
	Version string `json:"version"`
	Title   string `json:"title"`
	Image1x string `json:"image1x"`
	Image2x string `json:"image2x"`
	Image4x string `json:"image4x"`
}

// GQLUpdate is one decoded item of a GraphQL batch response. Exactly one of Badges or
// Cheermotes is set.
type GQLUpdate struct {
	Scope      string     `json:"badgesType,omitempty"`
	Badges     []GQLBadge `json:"badges,omitempty"`
	Cheermotes []string   `json:"cheermotes,omitempty"`
}

// Kind is the envelope type carrying the update.
func (u GQLUpdate) Kind() string {
	if u.Cheermotes != nil {
		return "cheermotes"
	}
	return "badges"
}

type gqlItem struct {
	Extensions struct {
		OperationName string `json:"operationName"`
	} `json:"extensions"`
	Data json.RawMessage `json:"data"`
}

// DecodeGQL decodes a GraphQL response body. Operations other than GlobalBadges,
// ChatList_Badges and BitsConfigContext_Global are skipped.
func DecodeGQL(body []byte) ([]GQLUpdate, error) {
	body = bytes.TrimSpace(body)
	var items []gqlItem
	if len(body) > 0 && body[0] == '{' {
		var single gqlItem
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("decode gql response: %w", err)
		}
		items = append(items, single)
	} else if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode gql response: %w", err)
	}

	var updates []GQLUpdate
	for _, item := range items {
		if len(item.Data) == 0 || string(item.Data) == "null" {
			continue
		}
		switch item.Extensions.OperationName {
		case "GlobalBadges":
			var data struct {
				Badges []GQLBadge `json:"badges"`
			}
			if err := json.Unmarshal(item.Data, &data); err != nil {
				return updates, fmt.Errorf("decode GlobalBadges: %w", err)
			}
			updates = append(updates, GQLUpdate{Scope: ScopeGlobal, Badges: nonNil(data.Badges)})

		case "ChatList_Badges":
			var data struct {
				User *struct {
					BroadcastBadges []GQLBadge `json:"broadcastBadges"`
				} `json:"user"`
			}
			if err := json.Unmarshal(item.Data, &data); err != nil {
				return updates, fmt.Errorf("decode ChatList_Badges: %w", err)
			}
			if data.User == nil {
				continue
			}
			updates = append(updates, GQLUpdate{Scope: ScopeUser, Badges: nonNil(data.User.BroadcastBadges)})

		case "BitsConfigContext_Global":
			prefixes, err := decodeCheermotes(item.Data)
			if err != nil {
				return updates, err
			}
			updates = append(updates, GQLUpdate{Cheermotes: prefixes})
		}
	}
	return updates, nil
}

// decodeCheermotes collects distinct prefixes of Cheermote nodes inside CheermoteGroup groups.
func decodeCheermotes(data json.RawMessage) ([]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("decode BitsConfigContext_Global: invalid json")
	}

	prefixes := []string{}
	seen := map[string]bool{}
	gjson.GetBytes(data, "cheerConfig.groups").ForEach(func(_, group gjson.Result) bool {
		if group.Get("__typename").String() != "CheermoteGroup" {
			return true
		}
		group.Get("nodes").ForEach(func(_, node gjson.Result) bool {
			prefix := node.Get("prefix").String()
			if node.Get("__typename").String() != "Cheermote" || prefix == "" || seen[prefix] {
				return true
			}
			seen[prefix] = true
			prefixes = append(prefixes, prefix)
			return true
		})
		return true
	})
	return prefixes, nil
}

func nonNil(b []GQLBadge) []GQLBadge {
	if b == nil {
		return []GQLBadge{}
	}
	return b
}

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

const badgeFields = `id setID version title image1x image2x image4x clickAction clickURL __typename`

// BadgesAndCheermotesRequest builds the batch request the chat page issues on load.
func BadgesAndCheermotesRequest(channelLogin string) ([]byte, error) {
	reqs := []gqlRequest{
		{
			OperationName: "GlobalBadges",
			Query:         "query GlobalBadges { badges { " + badgeFields + " } }",
			Variables:     map[string]any{},
		},
		{
			OperationName: "ChatList_Badges",
			Query:         "query ChatList_Badges($channelLogin: String!) { user(login: $channelLogin) { id broadcastBadges { " + badgeFields + " } __typename } }",
			Variables:     map[string]any{"channelLogin": strings.ToLower(channelLogin)},
		},
		{
			OperationName: "BitsConfigContext_Global",
			Query:         "query BitsConfigContext_Global { cheerConfig { groups { nodes { id prefix __typename } templateURL __typename } __typename } }",
			Variables:     map[string]any{},
		},
	}
	return json.Marshal(reqs)
}
