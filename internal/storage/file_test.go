package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	logx "chatrelay/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.db")
	ctx := context.Background()

	st, err := openFile(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}

	if err := st.Put(ctx, "category_general", []byte(`[{"channel":"#welcome"}]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "topic_42_#welcome", []byte(`{"ts":"100.1"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok, err := st.Get(ctx, "category_general")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(v) != `[{"channel":"#welcome"}]` {
		t.Fatalf("unexpected value: %s", v)
	}

	if err := st.Delete(ctx, "topic_42_#welcome"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := st.Get(ctx, "topic_42_#welcome"); ok {
		t.Fatalf("expected deleted key to be gone")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and verify snapshot+journal replay.
	st2, err := openFile(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	if _, ok, _ := st2.Get(ctx, "topic_42_#welcome"); ok {
		t.Fatalf("deleted key resurrected after reopen")
	}
	v, ok, err = st2.Get(ctx, "category_general")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if string(v) != `[{"channel":"#welcome"}]` {
		t.Fatalf("unexpected value after reopen: %s", v)
	}
}

func TestStoreKeysPrefix(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"mem", "file"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "s.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("%s: Open: %v", driver, err)
		}

		for _, k := range []string{"topic_1_#a", "topic_1_#b", "topic_2_#a", "category_general"} {
			if err := st.Put(ctx, k, []byte("x")); err != nil {
				t.Fatalf("%s: Put %s: %v", driver, k, err)
			}
		}

		keys, err := st.Keys(ctx, "topic_1_")
		if err != nil {
			t.Fatalf("%s: Keys: %v", driver, err)
		}
		sort.Strings(keys)
		if len(keys) != 2 || keys[0] != "topic_1_#a" || keys[1] != "topic_1_#b" {
			t.Fatalf("%s: unexpected keys: %v", driver, keys)
		}
		_ = st.Close()
	}
}
