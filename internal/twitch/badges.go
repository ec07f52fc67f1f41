package twitch

import (
	"strings"
	"sync"

	"github.com/john/unichat/internal/event"
)

// BadgeStore resolves IRC badge tags ("set/version,...") to badge images.
type BadgeStore struct {
	mu     sync.RWMutex
	badges map[string]event.Badge
}

func NewBadgeStore() *BadgeStore {
	return &BadgeStore{badges: map[string]event.Badge{}}
}

// Put stores badges of a scope. Global bits and subscriber badges are stored under a
// "global/" key so channel-specific versions take precedence.
func (s *BadgeStore) Put(scope string, badges []GQLBadge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range badges {
		code := b.SetID + "/" + b.Version
		if scope == ScopeGlobal && (b.SetID == "bits" || b.SetID == "subscriber") {
			code = "global/" + code
		}
		s.badges[code] = event.Badge{Code: code, URL: b.Image4x}
	}
}

// Lookup resolves a badges tag. Unknown badges are skipped.
func (s *BadgeStore) Lookup(tag string) []event.Badge {
	out := []event.Badge{}
	if tag == "" {
		return out
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range strings.Split(tag, ",") {
		if key == "" {
			continue
		}
		if b, ok := s.badges[key]; ok {
			out = append(out, b)
		} else if b, ok := s.badges["global/"+key]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of stored badges.
func (s *BadgeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.badges)
}

// CheermoteSet holds known cheermote prefixes, compared case-insensitively.
type CheermoteSet struct {
	mu       sync.RWMutex
	prefixes map[string]struct{}
}

func NewCheermoteSet() *CheermoteSet {
	return &CheermoteSet{prefixes: map[string]struct{}{}}
}

// Add merges prefixes into the set.
func (c *CheermoteSet) Add(prefixes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range prefixes {
		c.prefixes[strings.ToLower(p)] = struct{}{}
	}
}

// IsCheer reports whether word is a known prefix followed by an amount in 1..100000.
func (c *CheermoteSet) IsCheer(word string) bool {
	i := strings.IndexFunc(word, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return false
	}
	amount := 0
	for _, r := range word[i:] {
		if r < '0' || r > '9' {
			return false
		}
		amount = amount*10 + int(r-'0')
		if amount > 100000 {
			return false
		}
	}
	if amount < 1 {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.prefixes[strings.ToLower(word[:i])]
	return ok
}
