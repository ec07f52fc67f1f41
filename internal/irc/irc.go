// Package irc tokenizes Twitch IRC lines into tags, prefix and command.
package irc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyLine      = errors.New("empty line")
	ErrMissingCommand = errors.New("missing command")
)

// Command is the IRC verb with its parameters. A trailing ":" parameter is stored
// without the colon as the last element.
type Command struct {
	Name   string
	Params []string
}

// Message is one parsed line.
type Message struct {
	Raw string
	// Tags maps key to value; a tag written without "=" maps to nil.
	Tags    map[string]*string
	Prefix  []string
	Command Command
}

// Tag returns the value of key, treating a nil value as absent.
func (m Message) Tag(key string) (string, bool) {
	v, ok := m.Tags[key]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// TagOr returns the tag value or def.
func (m Message) TagOr(key, def string) string {
	if v, ok := m.Tag(key); ok && v != "" {
		return v
	}
	return def
}

// Nick returns the first prefix element, usually the sender login.
func (m Message) Nick() string {
	if len(m.Prefix) == 0 {
		return ""
	}
	return m.Prefix[0]
}

// Param returns the i-th parameter or "".
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Command.Params) {
		return ""
	}
	return m.Command.Params[i]
}

// Trailing returns the last parameter or "".
func (m Message) Trailing() string {
	return m.Param(len(m.Command.Params) - 1)
}

// Parse tokenizes a single line. Trailing CR/LF is ignored.
func Parse(line string) (Message, error) {
	raw := strings.TrimRight(line, "\r\n")
	msg := Message{Raw: raw, Tags: map[string]*string{}}

	rest := raw
	if rest == "" {
		return msg, ErrEmptyLine
	}

	if strings.HasPrefix(rest, "@") {
		segment, remainder, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return msg, fmt.Errorf("tags without command: %w", ErrMissingCommand)
		}
		for _, entry := range strings.Split(segment, ";") {
			if entry == "" {
				continue
			}
			key, value, hasValue := strings.Cut(entry, "=")
			if hasValue {
				value = unescapeTag(value)
				msg.Tags[key] = &value
			} else {
				msg.Tags[key] = nil
			}
		}
		rest = strings.TrimLeft(remainder, " ")
	}

	if strings.HasPrefix(rest, ":") {
		segment, remainder, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return msg, fmt.Errorf("prefix without command: %w", ErrMissingCommand)
		}
		msg.Prefix = splitPrefix(segment)
		rest = strings.TrimLeft(remainder, " ")
	}

	name, rest, _ := strings.Cut(rest, " ")
	if name == "" {
		return msg, ErrMissingCommand
	}
	msg.Command.Name = name

	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			msg.Command.Params = append(msg.Command.Params, rest[1:])
			break
		}
		var param string
		param, rest, _ = strings.Cut(rest, " ")
		msg.Command.Params = append(msg.Command.Params, param)
	}

	return msg, nil
}

// unescapeTag reverses IRCv3 tag value escaping. Unknown escapes drop the backslash and
// a trailing lone backslash is removed.
func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			b.WriteByte(v[i])
			continue
		}
		i++
		if i == len(v) {
			break
		}
		switch v[i] {
		case 's':
			b.WriteByte(' ')
		case ':':
			b.WriteByte(';')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

func splitPrefix(segment string) []string {
	nick, userHost, ok := strings.Cut(segment, "!")
	if !ok {
		return []string{segment}
	}
	user, host, ok := strings.Cut(userHost, "@")
	if !ok {
		return []string{nick, user}
	}
	return []string{nick, user, host}
}

// SplitFrame returns the non-empty lines of a frame. Every line is kept; batched frames
// are not truncated to their first line.
func SplitFrame(frame string) []string {
	parts := strings.Split(frame, "\r\n")
	lines := parts[:0]
	for _, p := range parts {
		if p = strings.TrimRight(p, "\r\n"); p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}
