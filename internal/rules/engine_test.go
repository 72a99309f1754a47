package rules

import (
	"context"
	"errors"
	"testing"

	"chatrelay/internal/forum"
	"chatrelay/internal/storage"
	logx "chatrelay/pkg/logx"
)

func newTestEngine(t *testing.T, tags ...string) (*Engine, storage.Store) {
	t.Helper()
	kv := storage.NewMem()
	st := NewFilterStore(kv, logx.Nop())
	return NewEngine(st, forum.StaticTags(tags), logx.Nop(), nil), kv
}

func mustRules(t *testing.T, e *Engine, scope Scope) []Rule {
	t.Helper()
	out, err := e.Rules(context.Background(), scope)
	if err != nil {
		t.Fatalf("Rules(%s): %v", scope, err)
	}
	return out
}

func TestSetCategoryFilterUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	e, kv := newTestEngine(t)
	scope := ScopeFor("general")

	if err := e.SetCategoryFilter(ctx, "#welcome", scope, LevelWatch); err != nil {
		t.Fatalf("SetCategoryFilter: %v", err)
	}
	got := mustRules(t, e, scope)
	if len(got) != 1 || got[0].Channel != "#welcome" || got[0].Level != LevelWatch || got[0].HasTags() {
		t.Fatalf("unexpected rules: %+v", got)
	}

	// Upsert in place, no second rule.
	if err := e.SetCategoryFilter(ctx, "#welcome", scope, LevelFollow); err != nil {
		t.Fatalf("SetCategoryFilter: %v", err)
	}
	got = mustRules(t, e, scope)
	if len(got) != 1 || got[0].Level != LevelFollow {
		t.Fatalf("expected single follow rule, got %+v", got)
	}

	// Unset deletes; the last rule in scope drops the storage key entirely.
	if err := e.SetCategoryFilter(ctx, "#welcome", scope, LevelUnset); err != nil {
		t.Fatalf("SetCategoryFilter unset: %v", err)
	}
	if got = mustRules(t, e, scope); len(got) != 0 {
		t.Fatalf("expected no rules, got %+v", got)
	}
	if _, ok, _ := kv.Get(ctx, scope.StorageKey()); ok {
		t.Fatalf("expected storage key to be deleted")
	}

	// Unset with nothing present is a no-op, not an error.
	if err := e.SetCategoryFilter(ctx, "#welcome", scope, LevelUnset); err != nil {
		t.Fatalf("SetCategoryFilter no-op unset: %v", err)
	}
}

func TestSetCategoryFilterLeavesTaggedRulesAlone(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "urgent")
	scope := ScopeFor("general")

	if err := e.SetTagFilter(ctx, "#welcome", scope, LevelWatch, "urgent"); err != nil {
		t.Fatalf("SetTagFilter: %v", err)
	}
	if err := e.SetCategoryFilter(ctx, "#welcome", scope, LevelFollow); err != nil {
		t.Fatalf("SetCategoryFilter: %v", err)
	}

	// Tag-less and tag-scoped rules for the same channel coexist.
	got := mustRules(t, e, scope)
	if len(got) != 2 {
		t.Fatalf("expected 2 rules, got %+v", got)
	}

	if err := e.SetCategoryFilter(ctx, "#welcome", scope, LevelUnset); err != nil {
		t.Fatalf("SetCategoryFilter unset: %v", err)
	}
	got = mustRules(t, e, scope)
	if len(got) != 1 || !got[0].HasTags() {
		t.Fatalf("expected tagged rule to survive, got %+v", got)
	}
}

func TestSetTagFilterMigratesTagBetweenLevels(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "urgent", "misc")
	scope := ScopeAll

	if err := e.SetTagFilter(ctx, "#ops", scope, LevelWatch, "urgent"); err != nil {
		t.Fatalf("SetTagFilter: %v", err)
	}
	if err := e.SetTagFilter(ctx, "#ops", scope, LevelWatch, "misc"); err != nil {
		t.Fatalf("SetTagFilter: %v", err)
	}
	// Move urgent from watch to follow.
	if err := e.SetTagFilter(ctx, "#ops", scope, LevelFollow, "urgent"); err != nil {
		t.Fatalf("SetTagFilter: %v", err)
	}

	got := mustRules(t, e, scope)
	counts := map[string]int{}
	for _, r := range got {
		for _, tag := range r.Tags {
			counts[tag]++
		}
	}
	// A tag lives at exactly one level after any sequence of moves.
	if counts["urgent"] != 1 || counts["misc"] != 1 {
		t.Fatalf("tag duplicated across levels: %+v", got)
	}
	for _, r := range got {
		switch {
		case r.Level == LevelFollow && !(len(r.Tags) == 1 && r.Tags[0] == "urgent"):
			t.Fatalf("follow rule should hold only urgent: %+v", r)
		case r.Level == LevelWatch && !(len(r.Tags) == 1 && r.Tags[0] == "misc"):
			t.Fatalf("watch rule should hold only misc: %+v", r)
		}
	}
}

func TestSetTagFilterUnsetRemovesAndPrunes(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "urgent", "misc")
	scope := ScopeFor("general")

	if err := e.SetTagFilter(ctx, "#ops", scope, LevelWatch, "urgent"); err != nil {
		t.Fatalf("SetTagFilter: %v", err)
	}
	if err := e.SetTagFilter(ctx, "#other", scope, LevelWatch, "urgent"); err != nil {
		t.Fatalf("SetTagFilter: %v", err)
	}

	// Unset removes the tag from #ops only; the emptied rule disappears,
	// the other channel's rule is untouched.
	if err := e.SetTagFilter(ctx, "#ops", scope, LevelUnset, "urgent"); err != nil {
		t.Fatalf("SetTagFilter unset: %v", err)
	}
	got := mustRules(t, e, scope)
	if len(got) != 1 || got[0].Channel != "#other" {
		t.Fatalf("unexpected rules after unset: %+v", got)
	}
}

func TestSetTagFilterUnknownTag(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "urgent")

	err := e.SetTagFilter(ctx, "#ops", ScopeAll, LevelWatch, "nonexistent")
	var tnf *TagNotFoundError
	if !errors.As(err, &tnf) {
		t.Fatalf("expected TagNotFoundError, got %v", err)
	}
	if tnf.Tag != "nonexistent" {
		t.Fatalf("expected missing tag name, got %q", tnf.Tag)
	}
}

func TestAddFilterUnknownTagIsZeroMutation(t *testing.T) {
	ctx := context.Background()
	e, kv := newTestEngine(t, "urgent")
	scope := ScopeFor("general")

	err := e.AddFilter(ctx, "#ops", scope, LevelWatch, []string{"urgent", "ghost"})
	var tnf *TagNotFoundError
	if !errors.As(err, &tnf) {
		t.Fatalf("expected TagNotFoundError, got %v", err)
	}
	if tnf.Tag != "ghost" {
		t.Fatalf("expected failing tag name, got %q", tnf.Tag)
	}
	if _, ok, _ := kv.Get(ctx, scope.StorageKey()); ok {
		t.Fatalf("failed AddFilter must not persist anything")
	}
}

func TestAddFilterUpsertsByIdentity(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t, "urgent", "misc")
	scope := ScopeAll

	if err := e.AddFilter(ctx, "#ops", scope, LevelWatch, []string{"urgent", "misc"}); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	// Same (channel, tag set) identity updates the level instead of
	// creating a duplicate rule.
	if err := e.AddFilter(ctx, "#ops", scope, LevelFollow, []string{"misc", "urgent"}); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	got := mustRules(t, e, scope)
	if len(got) != 1 || got[0].Level != LevelFollow {
		t.Fatalf("expected single follow rule, got %+v", got)
	}
}

func TestRemoveFilterExactMatchOnly(t *testing.T) {
	ctx := context.Background()
	e, kv := newTestEngine(t, "urgent", "misc")
	scope := ScopeFor("general")

	if err := e.AddFilter(ctx, "#ops", scope, LevelWatch, []string{"urgent"}); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if err := e.AddFilter(ctx, "#ops", scope, LevelWatch, nil); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}

	// Wrong tag set: no-op.
	if err := e.RemoveFilter(ctx, "#ops", scope, []string{"misc"}); err != nil {
		t.Fatalf("RemoveFilter: %v", err)
	}
	if got := mustRules(t, e, scope); len(got) != 2 {
		t.Fatalf("no-op remove changed rules: %+v", got)
	}

	if err := e.RemoveFilter(ctx, "#ops", scope, []string{"urgent"}); err != nil {
		t.Fatalf("RemoveFilter: %v", err)
	}
	got := mustRules(t, e, scope)
	if len(got) != 1 || got[0].HasTags() {
		t.Fatalf("expected only the tag-less rule, got %+v", got)
	}

	if err := e.RemoveFilter(ctx, "#ops", scope, nil); err != nil {
		t.Fatalf("RemoveFilter: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, scope.StorageKey()); ok {
		t.Fatalf("removing the last rule must delete the scope's storage key")
	}
}
