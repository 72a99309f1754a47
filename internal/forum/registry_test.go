package forum

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRawExcerptShortBodyUntouched(t *testing.T) {
	got, err := RawExcerpt{}.Excerpt(context.Background(), PostEvent{Raw: "  short body  "})
	if err != nil {
		t.Fatalf("Excerpt: %v", err)
	}
	if got != "short body" {
		t.Fatalf("unexpected excerpt: %q", got)
	}
}

func TestRawExcerptCutsOnWordBoundary(t *testing.T) {
	raw := strings.Repeat("word ", 100)
	got, err := RawExcerpt{MaxLen: 42}.Excerpt(context.Background(), PostEvent{Raw: raw})
	if err != nil {
		t.Fatalf("Excerpt: %v", err)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	if strings.HasSuffix(strings.TrimSuffix(got, "…"), "wor") {
		t.Fatalf("excerpt split a word: %q", got)
	}
}

func TestRawExcerptKeepsUTF8Valid(t *testing.T) {
	// No spaces, so the cut lands wherever the byte limit falls. Every
	// possible limit must still produce a valid string.
	raw := strings.Repeat("héllo→日本語", 40)
	for maxLen := 1; maxLen <= 64; maxLen++ {
		got, err := RawExcerpt{MaxLen: maxLen}.Excerpt(context.Background(), PostEvent{Raw: raw})
		if err != nil {
			t.Fatalf("MaxLen=%d: %v", maxLen, err)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("MaxLen=%d: excerpt is not valid UTF-8: %q", maxLen, got)
		}
		if len(got) > maxLen+len("…") {
			t.Fatalf("MaxLen=%d: excerpt too long: %q", maxLen, got)
		}
	}
}
