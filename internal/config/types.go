// Package config loads, validates and hot-reloads the relay configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder (unknown keys are rejected).
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	// Provider selects the delivery backend: "slack" (default) or "telegram".
	Provider string `json:"provider,omitempty"`

	Slack    SlackConfig    `json:"slack,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`

	HTTP     HTTPConfig      `json:"http"`
	Logging  LoggingConfig   `json:"logging"`
	Dispatch DispatchConfig  `json:"dispatch,omitempty"`
	Janitor  JanitorConfig   `json:"janitor,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Forum    ForumConfig     `json:"forum,omitempty"`
}

// SlackConfig configures the Slack backend. Token and WebhookURL are
// mutually exclusive modes; token mode enables message editing.
type SlackConfig struct {
	Token      string `json:"token,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// Timeout is a Go duration string.
	Timeout string `json:"timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:8080"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	// Server timeouts, Go duration strings.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings and errors into a chat channel through the
// active delivery backend.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Channel    string `json:"channel"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DispatchConfig controls coalescing and send behavior.
//
// All durations are Go duration strings (e.g. "500ms", "5m").
type DispatchConfig struct {
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`

	FreshnessWindow string `json:"freshness_window,omitempty"` // default "5m"
	AttachmentCap   int    `json:"attachment_cap,omitempty"`   // default 5

	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
}

type JanitorConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`  // cron spec, default "@every 1h"
	Retention string `json:"retention,omitempty"` // Go duration string, default "24h"
}

// StorageConfig selects the persistence driver. Nil means in-memory.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./chatrelay_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ForumConfig is the static stand-in for a host forum: the known tags, the
// category records, and how long excerpts may get.
type ForumConfig struct {
	Tags          []string         `json:"tags,omitempty"`
	Categories    []CategoryConfig `json:"categories,omitempty"`
	ExcerptMaxLen int              `json:"excerpt_max_len,omitempty"` // default 400
}

type CategoryConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
	Color    string `json:"color,omitempty"` // hex without '#'
}

// ---- Validation ----

// Validate checks cross-field constraints and every duration string. It is
// also the reload gate: a config that fails here is never committed.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "", "slack":
		if strings.TrimSpace(c.Slack.Token) == "" && strings.TrimSpace(c.Slack.WebhookURL) == "" {
			return fmt.Errorf("slack: either token or webhook_url is required")
		}
		if strings.TrimSpace(c.Slack.Token) != "" && strings.TrimSpace(c.Slack.WebhookURL) != "" {
			return fmt.Errorf("slack: token and webhook_url are mutually exclusive")
		}
	case "telegram":
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram: token is required")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	for _, d := range []struct{ path, raw string }{
		{"slack.timeout", c.Slack.Timeout},
		{"telegram.timeout", c.Telegram.Timeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"dispatch.freshness_window", c.Dispatch.FreshnessWindow},
		{"dispatch.retry_base", c.Dispatch.RetryBase},
		{"dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay},
		{"dispatch.send_timeout", c.Dispatch.SendTimeout},
		{"janitor.retention", c.Janitor.Retention},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for _, cat := range c.Forum.Categories {
		id := strings.TrimSpace(cat.ID)
		if id == "" {
			return fmt.Errorf("forum.categories: id is required")
		}
		if seen[id] {
			return fmt.Errorf("forum.categories: duplicate id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// ProviderName returns the normalized provider selector.
func (c *Config) ProviderName() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return "slack"
	}
	return p
}
