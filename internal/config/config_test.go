package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "chatrelay/pkg/logx"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
provider: slack
slack:
  token: xoxb-test
http:
  enabled: true
  addr: "127.0.0.1:0"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  chat:
    enabled: false
    channel: ""
    min_level: warn
    rate_per_sec: 1
dispatch:
  freshness_window: 5m
  attachment_cap: 5
forum:
  tags: [urgent, docs]
  categories:
    - id: general
      name: General
      color: "0088CC"
`)

	cfg, err := NewManager(path, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProviderName() != "slack" || cfg.Slack.Token != "xoxb-test" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Forum.Tags) != 2 || cfg.Forum.Categories[0].Color != "0088CC" {
		t.Fatalf("forum section not parsed: %+v", cfg.Forum)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	path := writeFile(t, "relay.json", `{"provider":"slack","slack":{"token":"x"},"typo_section":{}}`)
	if _, err := NewManager(path, logx.Nop()).Load(); err == nil {
		t.Fatal("unknown top-level keys must be rejected")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"slack token", Config{Slack: SlackConfig{Token: "x"}}, true},
		{"slack webhook", Config{Slack: SlackConfig{WebhookURL: "https://hooks"}}, true},
		{"slack neither", Config{}, false},
		{"slack both", Config{Slack: SlackConfig{Token: "x", WebhookURL: "y"}}, false},
		{"telegram", Config{Provider: "telegram", Telegram: TelegramConfig{Token: "t"}}, true},
		{"telegram no token", Config{Provider: "telegram"}, false},
		{"bad provider", Config{Provider: "irc"}, false},
		{"bad duration", Config{Slack: SlackConfig{Token: "x", Timeout: "soon"}}, false},
		{"dup category", Config{
			Slack: SlackConfig{Token: "x"},
			Forum: ForumConfig{Categories: []CategoryConfig{{ID: "a"}, {ID: "a"}}},
		}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", 10*time.Second); err != nil || d != 10*time.Second {
		t.Fatalf("empty must fall back to the default: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "3s", 10*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("explicit value must win: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "soon", 10*time.Second); err == nil {
		t.Fatal("garbage must not silently become the default")
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Slack: SlackConfig{Token: "a"}}
	newCfg := &Config{Slack: SlackConfig{Token: "b"}, Logging: LoggingConfig{Level: "debug"}}

	changed, _ := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "logging" || changed[1] != "slack" {
		t.Fatalf("unexpected change set: %v", changed)
	}
}
