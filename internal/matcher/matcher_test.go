package matcher

import (
	"testing"

	"chatrelay/internal/forum"
	"chatrelay/internal/rules"
)

func event(first bool, tags ...string) forum.PostEvent {
	n := 2
	if first {
		n = 1
	}
	return forum.PostEvent{TopicID: 7, PostNumber: n, CategoryID: "general", Tags: tags}
}

func TestTagIntersectionIsInclusive(t *testing.T) {
	scoped := []rules.Rule{
		{Channel: "#ab", Level: rules.LevelWatch, Tags: []string{"A", "B"}},
		{Channel: "#bc", Level: rules.LevelWatch, Tags: []string{"B", "C"}},
		{Channel: "#any", Level: rules.LevelWatch},
	}

	got := Match(event(false, "a"), scoped, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 targets, got %+v", got)
	}
	if got[0].Channel != "#ab" || got[1].Channel != "#any" {
		t.Fatalf("unexpected targets: %+v", got)
	}

	// A tag-less rule matches an event with no tags at all.
	got = Match(event(false), scoped, nil)
	if len(got) != 1 || got[0].Channel != "#any" {
		t.Fatalf("expected only the tag-less rule, got %+v", got)
	}
}

func TestLevelSemantics(t *testing.T) {
	scoped := []rules.Rule{
		{Channel: "#follow", Level: rules.LevelFollow},
		{Channel: "#watch", Level: rules.LevelWatch},
		{Channel: "#mute", Level: rules.LevelMute},
	}

	got := Match(event(true), scoped, nil)
	if len(got) != 2 {
		t.Fatalf("first post: expected follow+watch, got %+v", got)
	}

	got = Match(event(false), scoped, nil)
	if len(got) != 1 || got[0].Channel != "#watch" {
		t.Fatalf("reply: expected only watch, got %+v", got)
	}
}

func TestWildcardAndScopedBothFire(t *testing.T) {
	scoped := []rules.Rule{{Channel: "#cat", Level: rules.LevelWatch}}
	wildcard := []rules.Rule{{Channel: "#all", Level: rules.LevelWatch, Tags: []string{"urgent"}}}

	got := Match(event(false, "urgent"), scoped, wildcard)
	if len(got) != 2 {
		t.Fatalf("expected both scopes to deliver, got %+v", got)
	}
}

func TestDuplicateIdentityKeepsMute(t *testing.T) {
	// The same (channel, tag set) identity appearing with both a mute and
	// a watch level is malformed state; the mute must win dedup so the
	// channel is never notified by accident.
	scoped := []rules.Rule{{Channel: "#ops", Level: rules.LevelWatch}}
	wildcard := []rules.Rule{{Channel: "#ops", Level: rules.LevelMute}}

	if got := Match(event(false), scoped, wildcard); len(got) != 0 {
		t.Fatalf("mute duplicate must suppress delivery, got %+v", got)
	}
	// Order of the inputs must not matter.
	if got := Match(event(false), wildcard, scoped); len(got) != 0 {
		t.Fatalf("mute duplicate must suppress delivery, got %+v", got)
	}
}

func TestDefensiveSkips(t *testing.T) {
	scoped := []rules.Rule{
		{Channel: "", Level: rules.LevelWatch},             // no channel: skip
		{Channel: "#zero"},                                 // level unset: skip
		{Channel: "#ok", Level: rules.LevelWatch},
	}
	got := Match(event(false), scoped, nil)
	if len(got) != 1 || got[0].Channel != "#ok" {
		t.Fatalf("expected malformed rules to be skipped, got %+v", got)
	}
}
