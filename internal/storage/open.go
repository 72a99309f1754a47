package storage

import (
	"context"
	"errors"
	"strings"

	logx "chatrelay/pkg/logx"
)

// Store is the minimal key-value API used by the rule store and dispatcher.
//
// Values are opaque byte slices (JSON in practice). Implementations must be
// safe for concurrent use, but atomicity of read-modify-write cycles is the
// caller's job (per-key locking lives in the rules and dispatch layers).
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Keys returns every stored key with the given prefix, unordered.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "mem", "memory":
		return NewMem(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
