package forum

import (
	"context"
	"strings"
	"unicode/utf8"
)

// TagRegistry resolves tag names against the host forum's tag registry.
type TagRegistry interface {
	// ExistingTags returns, out of names, only the tags that exist.
	ExistingTags(ctx context.Context, names []string) ([]string, error)
}

// CategoryRegistry looks up category records.
type CategoryRegistry interface {
	Category(ctx context.Context, id string) (Category, bool, error)
}

// Guardian answers "may this event's audience see the post?". Delivery is
// skipped silently when it says no; this pipeline runs out-of-band, so a
// denial is not an error.
type Guardian interface {
	CanSee(ctx context.Context, ev PostEvent) (bool, error)
}

// ExcerptFormatter renders a post body to a chat-markup excerpt.
type ExcerptFormatter interface {
	Excerpt(ctx context.Context, ev PostEvent) (string, error)
}

// ---- Static implementations ----
//
// The relay is usually embedded next to a real forum that implements the
// interfaces above. The static variants below back the standalone binary and
// the tests.

// StaticTags is a fixed tag registry.
type StaticTags []string

func (t StaticTags) ExistingTags(ctx context.Context, names []string) ([]string, error) {
	_ = ctx
	known := make(map[string]bool, len(t))
	for _, n := range t {
		known[strings.ToLower(n)] = true
	}
	var out []string
	for _, n := range names {
		if known[strings.ToLower(n)] {
			out = append(out, n)
		}
	}
	return out, nil
}

// StaticCategories is a fixed category registry keyed by id.
type StaticCategories map[string]Category

func (c StaticCategories) Category(ctx context.Context, id string) (Category, bool, error) {
	_ = ctx
	cat, ok := c[id]
	return cat, ok, nil
}

// AllowAll is a guardian that never blocks delivery.
type AllowAll struct{}

func (AllowAll) CanSee(ctx context.Context, ev PostEvent) (bool, error) {
	_, _ = ctx, ev
	return true, nil
}

// RawExcerpt formats an excerpt by truncating the raw post body.
type RawExcerpt struct {
	MaxLen int // 0 means 400
}

func (f RawExcerpt) Excerpt(ctx context.Context, ev PostEvent) (string, error) {
	_ = ctx
	maxLen := f.MaxLen
	if maxLen <= 0 {
		maxLen = 400
	}
	s := strings.TrimSpace(ev.Raw)
	if len(s) <= maxLen {
		return s, nil
	}
	// Back off to a rune boundary, then cut on a space where possible so
	// the ellipsis doesn't split a word.
	cut := s[:maxLen]
	for len(cut) > 0 {
		if r, size := utf8.DecodeLastRuneInString(cut); r != utf8.RuneError || size > 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	if i := strings.LastIndexByte(cut, ' '); i > maxLen/2 {
		cut = cut[:i]
	}
	return cut + "…", nil
}
