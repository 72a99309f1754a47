package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"chatrelay/internal/storage"
	logx "chatrelay/pkg/logx"
)

// JanitorConfig controls pruning of stale conversation state. Conversations
// long past the freshness window can never be edited again; their records
// only grow the store.
type JanitorConfig struct {
	Schedule  string        // cron spec, default "@every 1h"
	Retention time.Duration // default 24h
}

type Janitor struct {
	cfg JanitorConfig
	kv  storage.Store
	log logx.Logger
	c   *cron.Cron
}

func NewJanitor(cfg JanitorConfig, kv storage.Store, log logx.Logger) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Janitor{cfg: cfg, kv: kv, log: log}
}

// Start schedules the prune job. Returns an error only for a bad cron spec.
func (j *Janitor) Start(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	j.c = cron.New(cron.WithParser(parser))
	_, err := j.c.AddFunc(j.cfg.Schedule, func() {
		n, err := j.Prune(ctx)
		if err != nil {
			j.log.Warn("conversation prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			j.log.Info("pruned stale conversations", logx.Int("count", n))
		}
	})
	if err != nil {
		return err
	}
	j.c.Start()
	return nil
}

func (j *Janitor) Stop() {
	if j.c != nil {
		<-j.c.Stop().Done()
	}
}

// Prune deletes conversation records not updated within the retention
// window. Undecodable records are deleted too.
func (j *Janitor) Prune(ctx context.Context) (int, error) {
	keys, err := j.kv.Keys(ctx, "topic_")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-j.cfg.Retention)

	pruned := 0
	for _, key := range keys {
		raw, ok, err := j.kv.Get(ctx, key)
		if err != nil {
			return pruned, err
		}
		if ok {
			var st ConversationState
			if err := json.Unmarshal(raw, &st); err == nil && st.UpdatedAt.After(cutoff) {
				continue
			}
		}
		if err := j.kv.Delete(ctx, key); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
