// Package relay is the pipeline core: it receives forum post events and
// pushes them through guard, rule matching, composition and dispatch.
package relay

import (
	"context"

	"chatrelay/internal/composer"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/forum"
	"chatrelay/internal/matcher"
	"chatrelay/internal/rules"
	logx "chatrelay/pkg/logx"
)

type Service struct {
	engine *rules.Engine
	guard  forum.Guardian
	comp   *composer.Composer
	disp   *dispatch.Dispatcher
	log    logx.Logger
}

func NewService(engine *rules.Engine, guard forum.Guardian, comp *composer.Composer, disp *dispatch.Dispatcher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{engine: engine, guard: guard, comp: comp, disp: disp, log: log}
}

// HandlePostCreated routes one new post. Posts the relay identity may not
// see are skipped silently; that is deliberate, a permission wall must not
// leak topic existence through error noise.
//
// Returned outcomes are per matched channel; an error is only returned when
// the pipeline itself failed before dispatch.
func (s *Service) HandlePostCreated(ctx context.Context, ev forum.PostEvent) ([]dispatch.Outcome, error) {
	if s.guard != nil {
		visible, err := s.guard.CanSee(ctx, ev)
		if err != nil {
			return nil, err
		}
		if !visible {
			s.log.Debug("post not visible, skipping", logx.Int64("topic", ev.TopicID), logx.Int64("post", ev.PostID))
			return nil, nil
		}
	}

	scoped, err := s.engine.Rules(ctx, rules.ScopeFor(ev.CategoryID))
	if err != nil {
		return nil, err
	}
	wildcard, err := s.engine.Rules(ctx, rules.ScopeAll)
	if err != nil {
		return nil, err
	}

	targets := matcher.Match(ev, scoped, wildcard)
	if len(targets) == 0 {
		s.log.Debug("no matching rules", logx.Int64("topic", ev.TopicID), logx.String("category", ev.CategoryID))
		return nil, nil
	}

	payload, err := s.comp.Compose(ctx, ev)
	if err != nil {
		return nil, err
	}

	s.log.Info("relaying post",
		logx.Int64("topic", ev.TopicID),
		logx.Int64("post", ev.PostID),
		logx.Int("targets", len(targets)))

	return s.disp.Deliver(ctx, ev, payload, targets), nil
}
