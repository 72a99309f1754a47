// Package slack delivers messages to Slack, in one of two mutually
// exclusive modes:
//
//   - Token mode: chat.postMessage / chat.update Web API calls. Responses
//     carry the message ts, so later posts to the same topic can edit the
//     existing message (conversation coalescing).
//   - Webhook mode: a single JSON POST per message to an incoming-webhook
//     URL. No message id comes back, so no coalescing is possible.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatrelay/internal/deliver"
	logx "chatrelay/pkg/logx"
)

const defaultAPIBase = "https://slack.com/api"

type Config struct {
	Token      string
	WebhookURL string
	APIBase    string // override for tests; default https://slack.com/api
	Timeout    time.Duration
}

type Adapter struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" && strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("slack: either token or webhook_url is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}, nil
}

// CanUpdate reports token mode; webhook responses carry no message id.
func (a *Adapter) CanUpdate() bool { return strings.TrimSpace(a.cfg.Token) != "" }

func (a *Adapter) Post(ctx context.Context, m deliver.Message) (deliver.Ref, error) {
	if !a.CanUpdate() {
		return deliver.Ref{}, a.postWebhook(ctx, m)
	}
	return a.callAPI(ctx, "chat.postMessage", m, "")
}

func (a *Adapter) Update(ctx context.Context, ref deliver.Ref, m deliver.Message) (deliver.Ref, error) {
	if !a.CanUpdate() {
		return deliver.Ref{}, errors.New("slack: webhook mode cannot update messages")
	}
	if ref.Timestamp == "" {
		return deliver.Ref{}, errors.New("slack: update requires a message ts")
	}
	// Updates address the channel the original message landed in.
	if ref.Channel != "" {
		m.Channel = ref.Channel
	}
	return a.callAPI(ctx, "chat.update", m, ref.Timestamp)
}

// apiResponse is the subset of the Web API response we keep. The returned
// ts/channel become the next ConversationState.
type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	TS      string `json:"ts,omitempty"`
	Channel string `json:"channel,omitempty"`
}

func (a *Adapter) callAPI(ctx context.Context, method string, m deliver.Message, ts string) (deliver.Ref, error) {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return deliver.Ref{}, fmt.Errorf("slack: encode attachments: %w", err)
	}

	form := url.Values{}
	form.Set("token", a.cfg.Token)
	form.Set("channel", m.Channel)
	form.Set("attachments", string(attachments))
	if ts != "" {
		form.Set("ts", ts)
	} else {
		// username/icon are accepted on postMessage only.
		if m.Username != "" {
			form.Set("username", m.Username)
		}
		if m.IconURL != "" {
			form.Set("icon_url", m.IconURL)
		}
	}

	endpoint := a.cfg.APIBase + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return deliver.Ref{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return deliver.Ref{}, fmt.Errorf("slack: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return deliver.Ref{}, fmt.Errorf("slack: %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return deliver.Ref{}, fmt.Errorf("slack: %s: http %d", method, resp.StatusCode)
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return deliver.Ref{}, fmt.Errorf("slack: %s: decode response: %w", method, err)
	}
	if !ar.OK {
		return deliver.Ref{}, fmt.Errorf("slack: %s: %s", method, ar.Error)
	}

	ref := deliver.Ref{Channel: ar.Channel, Timestamp: ar.TS}
	if ref.Channel == "" {
		ref.Channel = m.Channel
	}
	return ref, nil
}

func (a *Adapter) postWebhook(ctx context.Context, m deliver.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("slack: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack: webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack: webhook: http %d", resp.StatusCode)
	}
	return nil
}
