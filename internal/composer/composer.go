// Package composer builds outbound message payloads from post events.
package composer

import (
	"context"
	"strings"

	"chatrelay/internal/deliver"
	"chatrelay/internal/forum"
	logx "chatrelay/pkg/logx"
)

const defaultColor = "e9e9e9"

// Payload carries both renderings of one post: Fresh opens a new
// conversation thread and includes title/link, Followup is appended to an
// existing thread and omits them so the chat client does not re-render a
// changed link preview on every edit.
type Payload struct {
	Fresh    deliver.Attachment
	Followup deliver.Attachment
}

type Composer struct {
	categories forum.CategoryRegistry
	formatter  forum.ExcerptFormatter
	log        logx.Logger
}

func New(categories forum.CategoryRegistry, formatter forum.ExcerptFormatter, log logx.Logger) *Composer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Composer{categories: categories, formatter: formatter, log: log}
}

func (c *Composer) Compose(ctx context.Context, ev forum.PostEvent) (Payload, error) {
	excerpt := ""
	if c.formatter != nil {
		var err error
		excerpt, err = c.formatter.Excerpt(ctx, ev)
		if err != nil {
			return Payload{}, err
		}
	}

	color := defaultColor
	if c.categories != nil && ev.CategoryID != "" {
		cat, ok, err := c.categories.Category(ctx, ev.CategoryID)
		if err != nil {
			// Color is cosmetic; deliver with the default rather than
			// dropping the notification.
			c.log.Debug("category lookup failed", logx.String("category", ev.CategoryID), logx.Err(err))
		} else if ok && strings.TrimSpace(cat.Color) != "" {
			color = strings.TrimPrefix(cat.Color, "#")
		}
	}

	author := DisplayName(ev.Author.FullName, ev.Author.Username)

	base := deliver.Attachment{
		Fallback:   strings.TrimSpace(ev.TopicTitle + " - " + excerpt),
		Color:      "#" + color,
		AuthorName: author,
		AuthorIcon: ev.Author.AvatarURL,
		Text:       excerpt,
		MrkdwnIn:   []string{"text"},
	}

	fresh := base
	fresh.Title = ev.TopicTitle
	fresh.TitleLink = ev.URL

	return Payload{Fresh: fresh, Followup: base}, nil
}

// DisplayName renders "Full Name @username", collapsing to "@username" when
// the full name is just a restatement of the username (ignoring case and
// internal whitespace), to avoid redundant display.
func DisplayName(fullName, username string) string {
	name := strings.Join(strings.Fields(fullName), " ")
	if name == "" {
		return "@" + username
	}
	lower := strings.ToLower(name)
	if lower == strings.ToLower(username) ||
		strings.ReplaceAll(lower, " ", "") == strings.ToLower(username) {
		return "@" + username
	}
	return name + " @" + username
}
