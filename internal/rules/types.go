package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Level is the subscription intensity of a rule.
//
// LevelUnset is never persisted; passing it to a Set operation removes the
// matching rule instead of creating one.
type Level uint8

const (
	LevelUnset Level = iota
	LevelMute
	LevelWatch
	LevelFollow
)

func (l Level) String() string {
	switch l {
	case LevelMute:
		return "mute"
	case LevelWatch:
		return "watch"
	case LevelFollow:
		return "follow"
	default:
		return ""
	}
}

// ParseLevel accepts "mute", "watch", "follow" (case-insensitive) and the
// empty string for LevelUnset. Anything else is rejected at this boundary so
// stringly-typed levels never propagate into stored rules.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return LevelUnset, nil
	case "mute":
		return LevelMute, nil
	case "watch":
		return LevelWatch, nil
	case "follow":
		return LevelFollow, nil
	default:
		return LevelUnset, fmt.Errorf("unknown filter level %q", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	s := l.String()
	if s == "" {
		return nil, fmt.Errorf("cannot marshal filter level %d", uint8(l))
	}
	return json.Marshal(s)
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	lv, err := ParseLevel(s)
	if err != nil {
		return err
	}
	if lv == LevelUnset {
		return fmt.Errorf("filter level must not be empty")
	}
	*l = lv
	return nil
}

// Rule subscribes one channel to posts within a scope.
//
// Tags nil means "no tag filter" (the rule matches every post in scope);
// a non-empty Tags restricts matching to posts carrying at least one of the
// listed tags. Tags is never stored as an empty non-nil slice.
type Rule struct {
	Channel string   `json:"channel"`
	Level   Level    `json:"filter"`
	Tags    []string `json:"tags,omitempty"`
}

// HasTags reports whether the rule is tag-scoped.
func (r Rule) HasTags() bool { return len(r.Tags) > 0 }

// IdentityKey is the uniqueness key within a scope: (channel, tag set).
// A tag-less rule and a tagged rule for the same channel are distinct rules.
func (r Rule) IdentityKey() string {
	tags := append([]string(nil), r.Tags...)
	for i := range tags {
		tags[i] = strings.ToLower(tags[i])
	}
	sort.Strings(tags)
	return strings.ToLower(r.Channel) + "\x00" + strings.Join(tags, "\x00")
}

// normalizeTags trims, drops empties, and dedupes while preserving order.
// Returns nil for an empty result so "no tags" is always represented the
// same way.
func normalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

func sameTagSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = true
	}
	for _, t := range b {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}

// Scope is the category a rule set applies to, or ScopeAll for the
// "all categories" wildcard.
type Scope string

const ScopeAll Scope = "*"

// ScopeFor maps a category id to its scope. An empty id maps to ScopeAll.
func ScopeFor(categoryID string) Scope {
	id := strings.TrimSpace(categoryID)
	if id == "" {
		return ScopeAll
	}
	return Scope(id)
}

// StorageKey is the key-value record holding this scope's rule list.
func (s Scope) StorageKey() string { return "category_" + string(s) }

// TagNotFoundError reports the first requested tag missing from the host
// forum's tag registry. The operation performing the lookup has not mutated
// anything when this is returned.
type TagNotFoundError struct {
	Tag string
}

func (e *TagNotFoundError) Error() string { return "tag not found: " + e.Tag }
