package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chatrelay/internal/storage"
	logx "chatrelay/pkg/logx"
)

// FilterStore persists rule lists keyed by scope. Pure data access; the
// policy of what a mutation means lives in Engine.
//
// All mutations go through update(), which serializes read-modify-write
// cycles per scope so two concurrent administrators cannot lose each
// other's edits.
type FilterStore struct {
	kv  storage.Store
	log logx.Logger

	mu    sync.Mutex
	locks map[Scope]*sync.Mutex
}

func NewFilterStore(kv storage.Store, log logx.Logger) *FilterStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FilterStore{
		kv:    kv,
		log:   log,
		locks: map[Scope]*sync.Mutex{},
	}
}

func (s *FilterStore) scopeLock(scope Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[scope]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[scope] = l
	}
	return l
}

// Rules loads the rule list for one scope. A missing key is an empty list.
func (s *FilterStore) Rules(ctx context.Context, scope Scope) ([]Rule, error) {
	b, ok, err := s.kv.Get(ctx, scope.StorageKey())
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", scope.StorageKey(), err)
	}
	if !ok {
		return nil, nil
	}
	var out []Rule
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode rules %s: %w", scope.StorageKey(), err)
	}
	return out, nil
}

// update applies fn to the scope's rule list under the scope lock and
// persists the result. An empty result deletes the storage key entirely;
// externally "no rules" and "empty rule list" are the same thing.
func (s *FilterStore) update(ctx context.Context, scope Scope, fn func([]Rule) ([]Rule, error)) error {
	l := s.scopeLock(scope)
	l.Lock()
	defer l.Unlock()

	cur, err := s.Rules(ctx, scope)
	if err != nil {
		return err
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}

	if len(next) == 0 {
		return s.kv.Delete(ctx, scope.StorageKey())
	}
	b, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode rules %s: %w", scope.StorageKey(), err)
	}
	return s.kv.Put(ctx, scope.StorageKey(), b)
}
