// Package matcher computes which channels receive a post event.
package matcher

import (
	"sort"
	"strings"

	"chatrelay/internal/forum"
	"chatrelay/internal/rules"
)

// Target is one delivery destination with its resolved filter level.
type Target struct {
	Channel string
	Level   rules.Level
	Tags    []string
}

// Match returns the ordered, deduplicated delivery targets for ev, given the
// rules of the event's category scope and the "all categories" scope.
//
// Both scopes are evaluated independently; a post can legitimately match a
// rule in each. Duplicates by (channel, tag set) identity should not exist
// if the rule engine held its invariants, but the matcher tolerates them:
// mute rules are ordered first so that when a duplicate identity carries
// both a mute and a non-mute level, dedup keeps the mute and the channel
// stays silent. First match after ordering wins; that is a deliberate
// compromise under malformed state, not a correctness guarantee.
func Match(ev forum.PostEvent, scoped, wildcard []rules.Rule) []Target {
	all := make([]rules.Rule, 0, len(scoped)+len(wildcard))
	all = append(all, scoped...)
	all = append(all, wildcard...)

	// Mute before everything else; watch and follow have equal precedence.
	sort.SliceStable(all, func(i, j int) bool {
		return (all[i].Level == rules.LevelMute) && (all[j].Level != rules.LevelMute)
	})

	seen := map[string]bool{}
	var out []Target
	for _, r := range all {
		// Malformed persisted rules are skipped, not validated.
		if strings.TrimSpace(r.Channel) == "" {
			continue
		}
		key := r.IdentityKey()
		if seen[key] {
			continue
		}
		seen[key] = true

		// Tag filtering is inclusive: a tagged rule needs at least one
		// shared tag, a tag-less rule matches regardless of event tags.
		if r.HasTags() && !intersects(r.Tags, ev.Tags) {
			continue
		}

		switch r.Level {
		case rules.LevelMute:
			continue
		case rules.LevelFollow:
			// follow = new topics only; watch = every post.
			if !ev.IsFirstPost() {
				continue
			}
		case rules.LevelWatch:
		default:
			continue
		}

		out = append(out, Target{Channel: r.Channel, Level: r.Level, Tags: r.Tags})
	}
	return out
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = true
	}
	for _, t := range b {
		if set[strings.ToLower(t)] {
			return true
		}
	}
	return false
}
