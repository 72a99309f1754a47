package deliver

import "context"

// Attachment is one rendered post inside an outbound message.
//
// Field names follow the Slack attachment shape because that is the richest
// payload we emit; other providers map what they can and flatten the rest.
type Attachment struct {
	Fallback   string   `json:"fallback"`
	Color      string   `json:"color,omitempty"`
	AuthorName string   `json:"author_name,omitempty"`
	AuthorIcon string   `json:"author_icon,omitempty"`
	Title      string   `json:"title,omitempty"`
	TitleLink  string   `json:"title_link,omitempty"`
	ThumbURL   string   `json:"thumb_url,omitempty"`
	Text       string   `json:"text,omitempty"`
	MrkdwnIn   []string `json:"mrkdwn_in,omitempty"`
}

// Message is the full outbound payload for one channel.
type Message struct {
	Channel     string       `json:"channel"`
	Username    string       `json:"username,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Ref identifies a previously delivered message at the vendor.
// Timestamp is the vendor message id (Slack "ts", Telegram message id).
type Ref struct {
	Channel   string
	Timestamp string
}

// Adapter is an outbound chat transport.
//
// Implementations must be safe for concurrent use; the dispatcher serializes
// per (topic, channel) but different channels may deliver concurrently.
type Adapter interface {
	// Post sends a brand-new message and returns its vendor reference.
	Post(ctx context.Context, m Message) (Ref, error)

	// Update edits a previously posted message in place.
	// Adapters that return false from CanUpdate never receive Update calls.
	Update(ctx context.Context, ref Ref, m Message) (Ref, error)

	// CanUpdate reports whether the transport returns message ids that allow
	// later edits. Webhook-style transports do not, so no coalescing happens.
	CanUpdate() bool
}
