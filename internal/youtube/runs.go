package youtube

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/john/unichat/internal/event"
)

var htmlEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// renderRuns builds the message body from a runs array. Text runs are escaped and trimmed,
// emoji runs become <img> elements pointing at the largest thumbnail. Non-empty pieces are
// joined with single spaces.
func renderRuns(runs gjson.Result) (string, []event.Emote) {
	var parts []string
	emotes := []event.Emote{}

	runs.ForEach(func(_, run gjson.Result) bool {
		if text := run.Get("text"); text.Exists() {
			if s := strings.TrimSpace(htmlEscaper.Replace(text.String())); s != "" {
				parts = append(parts, s)
			}
			return true
		}

		emoji := run.Get("emoji")
		if !emoji.Exists() {
			return true
		}
		url := lastURL(emoji.Get("image.thumbnails"))
		code := emojiCode(emoji)
		emotes = append(emotes, event.Emote{
			ID:   emoji.Get("emojiId").String(),
			Code: code,
			URL:  url,
		})
		parts = append(parts, fmt.Sprintf(`<img src="%s" aria-label="%s" />`, url, code))
		return true
	})

	return strings.Join(parts, " "), emotes
}

// emojiCode prefers the first shortcut (":smile:"), then the first search term.
func emojiCode(emoji gjson.Result) string {
	if s := emoji.Get("shortcuts.0").String(); s != "" {
		return s
	}
	if s := emoji.Get("searchTerms.0").String(); s != "" {
		return s
	}
	return emoji.Get("emojiId").String()
}

// optionalRuns renders runs when present.
func optionalRuns(runs gjson.Result) (*string, []event.Emote) {
	if !runs.Exists() {
		return nil, []event.Emote{}
	}
	text, emotes := renderRuns(runs)
	return &text, emotes
}
