package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chatrelay/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging the reload. Secrets (tokens, webhook URLs) are reported
// only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.ProviderName() != newCfg.ProviderName() {
		changed = append(changed, "provider")
		attrs = append(attrs, logx.String("provider", newCfg.ProviderName()))
	}

	if oldCfg.Slack != newCfg.Slack {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.Bool("slack.token_set", strings.TrimSpace(newCfg.Slack.Token) != ""),
			logx.Bool("slack.webhook_set", strings.TrimSpace(newCfg.Slack.WebhookURL) != ""),
		)
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.freshness_window", newCfg.Dispatch.FreshnessWindow),
			logx.Int("dispatch.attachment_cap", newCfg.Dispatch.AttachmentCap),
			logx.Int("dispatch.retry_max", newCfg.Dispatch.RetryMax),
		)
	}

	if oldCfg.Janitor != newCfg.Janitor {
		changed = append(changed, "janitor")
		attrs = append(attrs,
			logx.Bool("janitor.enabled", newCfg.Janitor.Enabled),
			logx.String("janitor.schedule", newCfg.Janitor.Schedule),
		)
	}

	// Nil storage means in-memory; distinguish presence as well as content.
	oS, nS := StorageConfig{}, StorageConfig{}
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if (oldCfg.Storage != nil) != (newCfg.Storage != nil) || oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Forum, newCfg.Forum) {
		changed = append(changed, "forum")
		attrs = append(attrs,
			logx.Int("forum.tags", len(newCfg.Forum.Tags)),
			logx.Int("forum.categories", len(newCfg.Forum.Categories)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
