// Package telegram delivers messages to Telegram chats via the Bot API.
//
// Attachments are rendered to a single HTML-formatted message. Sent message
// ids are reported back, so conversation coalescing works the same way it
// does for token-mode Slack.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"chatrelay/internal/deliver"
	logx "chatrelay/pkg/logx"
)

type Config struct {
	Token   string
	Timeout time.Duration
	Offline bool // skip the getMe probe; used in tests
}

type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Poller:  &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Adapter{bot: bot, log: log}, nil
}

func (a *Adapter) CanUpdate() bool { return true }

// chat is a tele.Recipient for a raw channel string, either a numeric chat
// id or an @channelusername.
type chat string

func (c chat) Recipient() string { return string(c) }

func sendOptions() *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
}

func (a *Adapter) Post(ctx context.Context, m deliver.Message) (deliver.Ref, error) {
	if err := ctx.Err(); err != nil {
		return deliver.Ref{}, err
	}
	msg, err := a.bot.Send(chat(m.Channel), renderText(m), sendOptions())
	if err != nil {
		return deliver.Ref{}, fmt.Errorf("telegram: send: %w", err)
	}
	// Report the numeric chat id so edits work for @username channels too.
	return deliver.Ref{
		Channel:   strconv.FormatInt(msg.Chat.ID, 10),
		Timestamp: strconv.Itoa(msg.ID),
	}, nil
}

func (a *Adapter) Update(ctx context.Context, ref deliver.Ref, m deliver.Message) (deliver.Ref, error) {
	if err := ctx.Err(); err != nil {
		return deliver.Ref{}, err
	}
	chatID, err := strconv.ParseInt(ref.Channel, 10, 64)
	if err != nil {
		return deliver.Ref{}, fmt.Errorf("telegram: bad chat id %q: %w", ref.Channel, err)
	}
	msgID, err := strconv.Atoi(ref.Timestamp)
	if err != nil {
		return deliver.Ref{}, fmt.Errorf("telegram: bad message id %q: %w", ref.Timestamp, err)
	}
	target := &tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}}
	if _, err := a.bot.Edit(target, renderText(m), sendOptions()); err != nil {
		return deliver.Ref{}, fmt.Errorf("telegram: edit: %w", err)
	}
	return ref, nil
}

// renderText flattens the attachment list into one HTML message. Title and
// link only appear on the attachment that carries them, so edits that append
// follow-up posts do not repeat the topic header.
func renderText(m deliver.Message) string {
	var b strings.Builder
	for i, att := range m.Attachments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if att.Title != "" {
			if att.TitleLink != "" {
				fmt.Fprintf(&b, "<b><a href=%q>%s</a></b>\n", att.TitleLink, html.EscapeString(att.Title))
			} else {
				fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(att.Title))
			}
		}
		if att.AuthorName != "" {
			fmt.Fprintf(&b, "<i>%s</i>\n", html.EscapeString(att.AuthorName))
		}
		b.WriteString(html.EscapeString(att.Text))
	}
	return b.String()
}
