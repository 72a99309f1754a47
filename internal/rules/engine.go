package rules

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatrelay/internal/eventbus"
	"chatrelay/internal/forum"
	logx "chatrelay/pkg/logx"
)

// Engine mutates the persisted rule set in response to subscribe /
// unsubscribe / tag-add / tag-remove operations, enforcing the uniqueness
// and merge invariants:
//
//   - within a scope, at most one rule per (channel, tag set) identity
//   - a tag belongs to at most one filter level per channel in a scope
//
// The mutation helpers are pure functions over an immutable rule slice; the
// Engine wires them through FilterStore.update so every operation is a
// single atomic read-modify-write per scope.
type Engine struct {
	store *FilterStore
	tags  forum.TagRegistry
	log   logx.Logger
	bus   eventbus.Bus
}

func NewEngine(store *FilterStore, tags forum.TagRegistry, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{store: store, tags: tags, log: log, bus: bus}
}

// Rules is the read path used by the matcher and the HTTP controller.
func (e *Engine) Rules(ctx context.Context, scope Scope) ([]Rule, error) {
	return e.store.Rules(ctx, scope)
}

// SetCategoryFilter upserts the channel's tag-less rule in scope, or deletes
// it when level is LevelUnset (no-op if absent).
func (e *Engine) SetCategoryFilter(ctx context.Context, channel string, scope Scope, level Level) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return errors.New("channel is required")
	}
	err := e.store.update(ctx, scope, func(cur []Rule) ([]Rule, error) {
		return setCategoryFilter(cur, channel, level), nil
	})
	if err != nil {
		return err
	}
	e.changed(scope, channel, "set_category_filter")
	return nil
}

// SetTagFilter moves tag to the channel's rule at the given level.
//
// The tag is first removed from every rule of this channel in scope (rules
// whose tag set empties are deleted), which keeps a tag at exactly one
// filter level per channel. With LevelUnset the removal is all that happens.
func (e *Engine) SetTagFilter(ctx context.Context, channel string, scope Scope, level Level, tag string) error {
	channel = strings.TrimSpace(channel)
	tag = strings.TrimSpace(tag)
	if channel == "" {
		return errors.New("channel is required")
	}
	if tag == "" {
		return errors.New("tag is required")
	}
	if level != LevelUnset && e.tags != nil {
		if err := e.checkTags(ctx, []string{tag}); err != nil {
			return err
		}
	}
	err := e.store.update(ctx, scope, func(cur []Rule) ([]Rule, error) {
		return setTagFilter(cur, channel, level, tag), nil
	})
	if err != nil {
		return err
	}
	e.changed(scope, channel, "set_tag_filter")
	return nil
}

// AddFilter adds (or, for an existing (channel, tag set) identity, updates)
// a rule after validating every tag against the host's tag registry. An
// unknown tag fails with *TagNotFoundError naming it, before any mutation.
func (e *Engine) AddFilter(ctx context.Context, channel string, scope Scope, level Level, tags []string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return errors.New("channel is required")
	}
	if level == LevelUnset {
		return errors.New("filter level is required")
	}
	tags = normalizeTags(tags)
	if err := e.checkTags(ctx, tags); err != nil {
		return err
	}
	err := e.store.update(ctx, scope, func(cur []Rule) ([]Rule, error) {
		return upsertRule(cur, Rule{Channel: channel, Level: level, Tags: tags}), nil
	})
	if err != nil {
		return err
	}
	e.changed(scope, channel, "add_filter")
	return nil
}

// RemoveFilter deletes the rule exactly matching (channel, tag set).
// No-op when nothing matches.
func (e *Engine) RemoveFilter(ctx context.Context, channel string, scope Scope, tags []string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return errors.New("channel is required")
	}
	tags = normalizeTags(tags)
	err := e.store.update(ctx, scope, func(cur []Rule) ([]Rule, error) {
		return removeRule(cur, channel, tags), nil
	})
	if err != nil {
		return err
	}
	e.changed(scope, channel, "remove_filter")
	return nil
}

func (e *Engine) checkTags(ctx context.Context, tags []string) error {
	if len(tags) == 0 || e.tags == nil {
		return nil
	}
	existing, err := e.tags.ExistingTags(ctx, tags)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[strings.ToLower(t)] = true
	}
	for _, t := range tags {
		if !known[strings.ToLower(t)] {
			return &TagNotFoundError{Tag: t}
		}
	}
	return nil
}

func (e *Engine) changed(scope Scope, channel, op string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: "rules.changed", Time: time.Now(), Data: RuleChange{
		Scope:   string(scope),
		Channel: channel,
		Op:      op,
	}})
}

// RuleChange is emitted on the event bus after a successful mutation.
type RuleChange struct {
	Scope   string `json:"scope"`
	Channel string `json:"channel"`
	Op      string `json:"op"`
}

// ---- Pure mutation helpers ----
//
// Each returns a fresh slice; the input is never modified. This keeps the
// read-modify-write transaction in FilterStore.update trivial to reason
// about and to test.

func sameChannel(a, b string) bool { return strings.EqualFold(a, b) }

func setCategoryFilter(cur []Rule, channel string, level Level) []Rule {
	out := make([]Rule, 0, len(cur)+1)
	found := false
	for _, r := range cur {
		if sameChannel(r.Channel, channel) && !r.HasTags() {
			found = true
			if level == LevelUnset {
				continue // delete
			}
			r.Level = level
		}
		out = append(out, r)
	}
	if !found && level != LevelUnset {
		out = append(out, Rule{Channel: channel, Level: level})
	}
	return out
}

func setTagFilter(cur []Rule, channel string, level Level, tag string) []Rule {
	// Pass 1: take the tag away from every tagged rule of this channel.
	// Rules whose tag set empties are dropped.
	out := make([]Rule, 0, len(cur)+1)
	for _, r := range cur {
		if sameChannel(r.Channel, channel) && r.HasTags() {
			kept := make([]string, 0, len(r.Tags))
			for _, t := range r.Tags {
				if !strings.EqualFold(t, tag) {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				continue
			}
			r.Tags = kept
		}
		out = append(out, r)
	}

	if level == LevelUnset {
		return out
	}

	// Pass 2: append the tag to the channel's tagged rule at this level,
	// or start a new one.
	for i, r := range out {
		if sameChannel(r.Channel, channel) && r.Level == level && r.HasTags() {
			r.Tags = append(append([]string(nil), r.Tags...), tag)
			out[i] = r
			return out
		}
	}
	return append(out, Rule{Channel: channel, Level: level, Tags: []string{tag}})
}

func upsertRule(cur []Rule, nr Rule) []Rule {
	out := make([]Rule, 0, len(cur)+1)
	found := false
	for _, r := range cur {
		if sameChannel(r.Channel, nr.Channel) && sameTagSet(r.Tags, nr.Tags) {
			found = true
			r.Level = nr.Level
		}
		out = append(out, r)
	}
	if !found {
		out = append(out, nr)
	}
	return out
}

func removeRule(cur []Rule, channel string, tags []string) []Rule {
	out := make([]Rule, 0, len(cur))
	for _, r := range cur {
		if sameChannel(r.Channel, channel) && sameTagSet(r.Tags, tags) {
			continue
		}
		out = append(out, r)
	}
	return out
}
