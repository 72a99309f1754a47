package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatrelay/internal/composer"
	"chatrelay/internal/config"
	"chatrelay/internal/deliver"
	"chatrelay/internal/deliver/slack"
	"chatrelay/internal/deliver/telegram"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/eventbus"
	"chatrelay/internal/forum"
	"chatrelay/internal/httpapi"
	"chatrelay/internal/rules"
	"chatrelay/internal/runtime/supervisor"
	"chatrelay/internal/storage"
	logx "chatrelay/pkg/logx"
)

// App assembles the full relay from a config file: delivery adapter,
// storage, rule engine, dispatcher, HTTP surface, config watch and janitor.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	kv      storage.Store
	bus     eventbus.Bus
	adapter deliver.Adapter
	engine  *rules.Engine
	svc     *Service
	api     *httpapi.Server
	jan     *dispatch.Janitor

	sup *supervisor.Supervisor
}

func NewApp(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")

	cfgm := config.NewManager(cfgPath, boot)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	adapter, err := buildAdapter(cfg, boot)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			Channel:    cfg.Logging.Chat.Channel,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}, adapter)

	kv, err := openStorage(cfg, log)
	if err != nil {
		logs.Close()
		return nil, err
	}

	bus := eventbus.New()
	tags, categories, excerpt := buildForum(cfg)

	engine := rules.NewEngine(
		rules.NewFilterStore(kv, log.With(logx.String("comp", "rules"))),
		tags,
		log.With(logx.String("comp", "rules")),
		bus,
	)
	comp := composer.New(categories, excerpt, log.With(logx.String("comp", "composer")))

	dispCfg, err := buildDispatch(cfg)
	if err != nil {
		logs.Close()
		_ = kv.Close()
		return nil, err
	}
	disp := dispatch.New(dispCfg, adapter, kv, log.With(logx.String("comp", "dispatch")), bus)

	svc := NewService(engine, forum.AllowAll{}, comp, disp, log.With(logx.String("comp", "relay")))

	app := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		kv:      kv,
		bus:     bus,
		adapter: adapter,
		engine:  engine,
		svc:     svc,
	}

	if cfg.HTTP.Enabled {
		httpCfg, err := buildHTTP(cfg)
		if err != nil {
			app.close()
			return nil, err
		}
		app.api = httpapi.New(httpCfg, svc, engine, log.With(logx.String("comp", "httpapi")))
	}

	if cfg.Janitor.Enabled {
		retention, err := config.ParseDurationOrDefault("janitor.retention", cfg.Janitor.Retention, 24*time.Hour)
		if err != nil {
			app.close()
			return nil, err
		}
		app.jan = dispatch.NewJanitor(dispatch.JanitorConfig{
			Schedule:  cfg.Janitor.Schedule,
			Retention: retention,
		}, kv, log.With(logx.String("comp", "janitor")))
	}

	return app, nil
}

// Service exposes the pipeline for embedding (tests, custom ingest).
func (a *App) Service() *Service { return a.svc }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.applyReloads)
	a.sup.Go0("events.log", a.drainEvents)

	if a.api != nil {
		a.sup.GoRestart("httpapi", a.api.Run)
	}
	if a.jan != nil {
		if err := a.jan.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
	}

	a.log.Info("relay started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	a.close()
	a.log.Info("relay stopped")
	return err
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) close() {
	if a.jan != nil {
		a.jan.Stop()
	}
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// applyReloads consumes validated config reloads. Logging is applied live;
// sections that would need rebuilding the adapter or storage are only
// reported, a restart picks them up.
func (a *App) applyReloads(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeChange(last, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.Strings("sections", changed))...)

			for _, section := range changed {
				switch section {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
						Chat: logx.ChatConfig{
							Enabled:    cfg.Logging.Chat.Enabled,
							Channel:    cfg.Logging.Chat.Channel,
							MinLevel:   cfg.Logging.Chat.MinLevel,
							RatePerSec: cfg.Logging.Chat.RatePerSec,
						},
					})
				default:
					a.log.Warn("config section needs a restart to take effect", logx.String("section", section))
				}
			}
			last = cfg
		}
	}
}

// drainEvents mirrors bus traffic into the debug log. Failed dispatches are
// already logged at warn by the dispatcher; this is the trace of everything
// else.
func (a *App) drainEvents(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
		}
	}
}

// ---- Construction helpers ----

func buildAdapter(cfg *config.Config, log logx.Logger) (deliver.Adapter, error) {
	switch cfg.ProviderName() {
	case "slack":
		timeout, err := config.ParseDurationOrDefault("slack.timeout", cfg.Slack.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return slack.New(slack.Config{
			Token:      cfg.Slack.Token,
			WebhookURL: cfg.Slack.WebhookURL,
			Timeout:    timeout,
		}, log)
	case "telegram":
		timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:   cfg.Telegram.Token,
			Timeout: timeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func openStorage(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return storage.NewMem(), nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
}

func buildForum(cfg *config.Config) (forum.TagRegistry, forum.CategoryRegistry, forum.ExcerptFormatter) {
	categories := make(forum.StaticCategories, len(cfg.Forum.Categories))
	for _, c := range cfg.Forum.Categories {
		categories[c.ID] = forum.Category{
			ID:       c.ID,
			Name:     c.Name,
			ParentID: c.ParentID,
			Color:    strings.TrimPrefix(c.Color, "#"),
		}
	}
	return forum.StaticTags(cfg.Forum.Tags), categories, forum.RawExcerpt{MaxLen: cfg.Forum.ExcerptMaxLen}
}

func buildDispatch(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{
		Username:      d.Username,
		IconURL:       d.IconURL,
		AttachmentCap: d.AttachmentCap,
		RatePerSec:    d.RatePerSec,
		RetryMax:      d.RetryMax,
	}
	var err error
	if out.FreshnessWindow, err = config.ParseDurationField("dispatch.freshness_window", d.FreshnessWindow); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationField("dispatch.retry_base", d.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.SendTimeout, err = config.ParseDurationField("dispatch.send_timeout", d.SendTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func buildHTTP(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	out := httpapi.Config{Addr: h.Addr, Token: h.Token}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("http.read_timeout", h.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("http.idle_timeout", h.IdleTimeout); err != nil {
		return out, err
	}
	return out, nil
}
