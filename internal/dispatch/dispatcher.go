// Package dispatch turns matched targets into chat messages, coalescing a
// burst of posts on one topic into a single, repeatedly edited message per
// channel.
package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatrelay/internal/composer"
	"chatrelay/internal/deliver"
	"chatrelay/internal/eventbus"
	"chatrelay/internal/forum"
	"chatrelay/internal/matcher"
	"chatrelay/internal/rules"
	"chatrelay/internal/storage"
	logx "chatrelay/pkg/logx"
)

type Config struct {
	// FreshnessWindow is how long after the last successful delivery a
	// conversation still accepts appended posts instead of a new message.
	FreshnessWindow time.Duration
	// AttachmentCap bounds how many posts one message accumulates before
	// the next post opens a new conversation.
	AttachmentCap int

	Username string
	IconURL  string

	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 5 * time.Minute
	}
	if c.AttachmentCap <= 0 {
		c.AttachmentCap = 5
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// Outcome is the per-channel delivery result. Channels fail independently;
// one channel's error never suppresses delivery to the others.
type Outcome struct {
	Channel string
	Level   rules.Level
	Updated bool
	Ref     deliver.Ref
	Err     error
}

// Record is the bus payload for dispatch.sent / dispatch.updated /
// dispatch.failed events.
type Record struct {
	TopicID int64  `json:"topic_id"`
	Channel string `json:"channel"`
	Updated bool   `json:"updated"`
	Error   string `json:"error,omitempty"`
}

type Dispatcher struct {
	cfg     Config
	adapter deliver.Adapter
	kv      storage.Store
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config, adapter deliver.Adapter, kv storage.Store, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	cfg.setDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		adapter: adapter,
		kv:      kv,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		locks:   map[string]*sync.Mutex{},
	}
}

// Deliver sends the composed payload to every target and returns one Outcome
// per target, in input order.
func (d *Dispatcher) Deliver(ctx context.Context, ev forum.PostEvent, p composer.Payload, targets []matcher.Target) []Outcome {
	out := make([]Outcome, 0, len(targets))
	for _, tgt := range targets {
		o := d.deliverOne(ctx, ev, p, tgt)
		out = append(out, o)

		rec := Record{TopicID: ev.TopicID, Channel: o.Channel, Updated: o.Updated}
		typ := "dispatch.sent"
		if o.Updated {
			typ = "dispatch.updated"
		}
		if o.Err != nil {
			typ = "dispatch.failed"
			rec.Error = o.Err.Error()
			d.log.Warn("delivery failed",
				logx.String("channel", o.Channel),
				logx.Int64("topic", ev.TopicID),
				logx.Err(o.Err))
		} else {
			d.log.Debug("delivered",
				logx.String("channel", o.Channel),
				logx.Int64("topic", ev.TopicID),
				logx.Bool("updated", o.Updated))
		}
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: typ, Data: rec})
		}
	}
	return out
}

func (d *Dispatcher) deliverOne(ctx context.Context, ev forum.PostEvent, p composer.Payload, tgt matcher.Target) Outcome {
	o := Outcome{Channel: tgt.Channel, Level: tgt.Level}

	key := topicKey(ev.TopicID, tgt.Channel)
	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()

	if d.adapter.CanUpdate() {
		st, ok, err := loadState(ctx, d.kv, key)
		if err != nil {
			o.Err = err
			return o
		}
		if ok && now.Sub(st.UpdatedAt) < d.cfg.FreshnessWindow && len(st.Message.Attachments) < d.cfg.AttachmentCap {
			msg := st.Message
			msg.Attachments = append(append([]deliver.Attachment(nil), msg.Attachments...), p.Followup)

			ref, err := d.send(ctx, func(c context.Context) (deliver.Ref, error) {
				return d.adapter.Update(c, st.Ref, msg)
			})
			if err == nil {
				o.Updated, o.Ref = true, ref
				st.Ref, st.Message, st.UpdatedAt = ref, msg, now
				o.Err = saveState(ctx, d.kv, key, st)
				return o
			}
			// The upstream message may have been deleted or aged out on the
			// chat side; fall through and open a new conversation.
			d.log.Debug("update failed, starting new conversation",
				logx.String("channel", tgt.Channel), logx.Err(err))
		}
	}

	msg := deliver.Message{
		Channel:     tgt.Channel,
		Username:    d.cfg.Username,
		IconURL:     d.cfg.IconURL,
		Attachments: []deliver.Attachment{p.Fresh},
	}
	ref, err := d.send(ctx, func(c context.Context) (deliver.Ref, error) {
		return d.adapter.Post(c, msg)
	})
	if err != nil {
		o.Err = err
		return o
	}
	o.Ref = ref

	if d.adapter.CanUpdate() && ref.Timestamp != "" {
		o.Err = saveState(ctx, d.kv, key, ConversationState{
			Ref: ref, Message: msg, CreatedAt: now, UpdatedAt: now,
		})
	}
	return o
}

// send applies the rate limit and retry policy around one adapter call.
func (d *Dispatcher) send(ctx context.Context, call func(context.Context) (deliver.Ref, error)) (deliver.Ref, error) {
	maxAttempts := 1 + d.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return deliver.Ref{}, err
		}

		sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		ref, err := call(sctx)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		t := time.NewTimer(d.retryDelay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return deliver.Ref{}, ctx.Err()
		case <-t.C:
		}
	}
	return deliver.Ref{}, lastErr
}

func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1), capped, with 0.7..1.3 jitter.
	delay := d.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMaxDelay {
			delay = d.cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	delay = time.Duration(float64(delay) * j)
	if delay < 0 {
		return 0
	}
	return delay
}

func (d *Dispatcher) lockFor(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}
