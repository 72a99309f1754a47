package forum

// PostEvent describes a newly created forum post as received from the host
// forum. It carries everything the pipeline needs so no callback into the
// forum is required during matching.
type PostEvent struct {
	TopicID    int64    `json:"topic_id"`
	PostID     int64    `json:"post_id"`
	PostNumber int      `json:"post_number"` // 1 = the post that opened the topic
	TopicTitle string   `json:"topic_title"`
	URL        string   `json:"url"` // absolute link to the post
	CategoryID string   `json:"category_id"`
	Tags       []string `json:"tags,omitempty"`
	Raw        string   `json:"raw,omitempty"` // raw post body, input to the excerpt formatter
	Author     Author   `json:"author"`
}

type Author struct {
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// IsFirstPost reports whether this event opened its topic.
// Follow-level rules only fire for first posts.
func (e PostEvent) IsFirstPost() bool { return e.PostNumber <= 1 }

// Category is the host forum's category record, as far as the composer
// cares: a display name, an optional parent for breadcrumbs, and the color
// used for the attachment sidebar.
type Category struct {
	ID       string
	Name     string
	ParentID string
	Color    string // hex without '#', e.g. "0088CC"
}
