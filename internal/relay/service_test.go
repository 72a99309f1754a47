package relay

import (
	"context"
	"testing"

	"chatrelay/internal/composer"
	"chatrelay/internal/deliver"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/forum"
	"chatrelay/internal/rules"
	"chatrelay/internal/storage"
	logx "chatrelay/pkg/logx"
)

type recordingAdapter struct {
	posts []deliver.Message
}

func (r *recordingAdapter) CanUpdate() bool { return false }

func (r *recordingAdapter) Post(_ context.Context, m deliver.Message) (deliver.Ref, error) {
	r.posts = append(r.posts, m)
	return deliver.Ref{}, nil
}

func (r *recordingAdapter) Update(context.Context, deliver.Ref, deliver.Message) (deliver.Ref, error) {
	return deliver.Ref{}, nil
}

type denyAll struct{}

func (denyAll) CanSee(context.Context, forum.PostEvent) (bool, error) { return false, nil }

func newTestService(t *testing.T, guard forum.Guardian) (*Service, *rules.Engine, *recordingAdapter) {
	t.Helper()
	kv := storage.NewMem()
	engine := rules.NewEngine(
		rules.NewFilterStore(kv, logx.Nop()),
		forum.StaticTags{"urgent", "docs"},
		logx.Nop(), nil,
	)
	comp := composer.New(forum.StaticCategories{
		"general": {ID: "general", Name: "General", Color: "0088CC"},
	}, forum.RawExcerpt{}, logx.Nop())

	ad := &recordingAdapter{}
	disp := dispatch.New(dispatch.Config{RatePerSec: 1000}, ad, kv, logx.Nop(), nil)

	return NewService(engine, guard, comp, disp, logx.Nop()), engine, ad
}

func event(topic int64, postNumber int, category string, tags ...string) forum.PostEvent {
	return forum.PostEvent{
		TopicID:    topic,
		PostID:     topic*100 + int64(postNumber),
		PostNumber: postNumber,
		TopicTitle: "Topic title",
		URL:        "https://forum.example/t/1",
		CategoryID: category,
		Tags:       tags,
		Raw:        "body",
		Author:     forum.Author{Username: "jane"},
	}
}

func TestFollowRuleFiresOnFirstPostOnly(t *testing.T) {
	svc, engine, ad := newTestService(t, nil)
	ctx := context.Background()

	if err := engine.SetCategoryFilter(ctx, "#general", rules.ScopeFor("general"), rules.LevelFollow); err != nil {
		t.Fatalf("SetCategoryFilter: %v", err)
	}

	out, err := svc.HandlePostCreated(ctx, event(1, 1, "general"))
	if err != nil {
		t.Fatalf("HandlePostCreated: %v", err)
	}
	if len(out) != 1 || out[0].Err != nil {
		t.Fatalf("first post must deliver once: %+v", out)
	}

	out, err = svc.HandlePostCreated(ctx, event(1, 2, "general"))
	if err != nil {
		t.Fatalf("HandlePostCreated: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("reply must not match a follow rule: %+v", out)
	}
	if len(ad.posts) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(ad.posts))
	}
}

func TestWildcardTagRule(t *testing.T) {
	svc, engine, ad := newTestService(t, nil)
	ctx := context.Background()

	if err := engine.AddFilter(ctx, "#incidents", rules.ScopeAll, rules.LevelWatch, []string{"urgent"}); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}

	out, err := svc.HandlePostCreated(ctx, event(2, 3, "general", "urgent"))
	if err != nil {
		t.Fatalf("HandlePostCreated: %v", err)
	}
	if len(out) != 1 || out[0].Channel != "#incidents" {
		t.Fatalf("tagged post must reach the wildcard rule: %+v", out)
	}

	out, err = svc.HandlePostCreated(ctx, event(3, 1, "general"))
	if err != nil {
		t.Fatalf("HandlePostCreated: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("untagged post must not match a tagged rule: %+v", out)
	}
	if len(ad.posts) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(ad.posts))
	}
}

func TestHiddenPostIsSkippedSilently(t *testing.T) {
	svc, engine, ad := newTestService(t, denyAll{})
	ctx := context.Background()

	if err := engine.SetCategoryFilter(ctx, "#general", rules.ScopeFor("general"), rules.LevelWatch); err != nil {
		t.Fatalf("SetCategoryFilter: %v", err)
	}

	out, err := svc.HandlePostCreated(ctx, event(4, 1, "general"))
	if err != nil {
		t.Fatalf("hidden posts must not surface errors: %v", err)
	}
	if len(out) != 0 || len(ad.posts) != 0 {
		t.Fatalf("hidden post must not be delivered: %+v / %+v", out, ad.posts)
	}
}

func TestMuteSuppressesWildcardWatch(t *testing.T) {
	svc, engine, ad := newTestService(t, nil)
	ctx := context.Background()

	if err := engine.AddFilter(ctx, "#ops", rules.ScopeAll, rules.LevelWatch, nil); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if err := engine.SetCategoryFilter(ctx, "#ops", rules.ScopeFor("general"), rules.LevelMute); err != nil {
		t.Fatalf("SetCategoryFilter: %v", err)
	}

	out, err := svc.HandlePostCreated(ctx, event(5, 1, "general"))
	if err != nil {
		t.Fatalf("HandlePostCreated: %v", err)
	}
	if len(out) != 0 || len(ad.posts) != 0 {
		t.Fatalf("category mute must beat the wildcard watch: %+v", out)
	}

	out, err = svc.HandlePostCreated(ctx, event(6, 1, "other"))
	if err != nil {
		t.Fatalf("HandlePostCreated: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("other categories must still deliver: %+v", out)
	}
}
