package dispatch

import (
	"context"
	"testing"
	"time"

	"chatrelay/internal/storage"
	logx "chatrelay/pkg/logx"
)

func TestPruneDeletesStaleAndCorruptRecords(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMem()
	now := time.Now()

	put := func(key string, st ConversationState) {
		if err := saveState(ctx, kv, key, st); err != nil {
			t.Fatalf("saveState: %v", err)
		}
	}
	put(topicKey(1, "#fresh"), ConversationState{UpdatedAt: now})
	put(topicKey(2, "#stale"), ConversationState{UpdatedAt: now.Add(-48 * time.Hour)})
	if err := kv.Put(ctx, topicKey(3, "#corrupt"), []byte("{")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Non-conversation keys must be untouched.
	if err := kv.Put(ctx, "category_general", []byte("[]")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	j := NewJanitor(JanitorConfig{Retention: 24 * time.Hour}, kv, logx.Nop())
	n, err := j.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pruned, got %d", n)
	}

	if _, ok, _ := kv.Get(ctx, topicKey(1, "#fresh")); !ok {
		t.Fatal("fresh conversation must survive")
	}
	if _, ok, _ := kv.Get(ctx, topicKey(2, "#stale")); ok {
		t.Fatal("stale conversation must be deleted")
	}
	if _, ok, _ := kv.Get(ctx, "category_general"); !ok {
		t.Fatal("rule keys must be untouched")
	}
}
