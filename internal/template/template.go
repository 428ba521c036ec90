// Package template defines the forum chat template model: a named chat
// blueprint with an ordered list of topics, validated against the
// platform's length limits before it is ever persisted or provisioned.
package template

import "time"

// Platform and product limits. Titles and descriptions follow Telegram's
// documented bounds; the per-owner caps keep the store small.
const (
	MaxChatTitle         = 128
	MaxChatDescription   = 255
	MaxTopicTitle        = 128
	MaxTemplateName      = 100
	MaxTopics            = 20
	MaxTemplatesPerOwner = 10
)

// Topic is one forum topic inside a template. Topics have no ID of their
// own; identity is the position in the template's Topics slice, and that
// order is preserved through persistence and provisioning.
type Topic struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Icon is an emoji glyph. It resolves to a custom emoji ID through
	// the icon capability cache at provisioning time; an unresolvable
	// glyph falls back to a plain topic.
	Icon string `json:"icon,omitempty"`

	Closed bool `json:"closed,omitempty"`
	Hidden bool `json:"hidden,omitempty"`
}

// Template is a reusable blueprint for a forum supergroup.
type Template struct {
	OwnerID         int64     `json:"user_id"`
	Name            string    `json:"name"`
	ChatTitle       string    `json:"chat_name"`
	ChatDescription string    `json:"description,omitempty"`
	Topics          []Topic   `json:"topics"`
	CreatedAt       time.Time `json:"created_at"`
}

// Clone returns a deep copy. The store hands out clones so callers can
// mutate drafts without aliasing the index.
func (t Template) Clone() Template {
	out := t
	out.Topics = make([]Topic, len(t.Topics))
	copy(out.Topics, t.Topics)
	return out
}

// Equal reports whether two templates have identical content, ignoring
// CreatedAt.
func (t Template) Equal(other Template) bool {
	if t.OwnerID != other.OwnerID || t.Name != other.Name ||
		t.ChatTitle != other.ChatTitle || t.ChatDescription != other.ChatDescription ||
		len(t.Topics) != len(other.Topics) {
		return false
	}
	for i := range t.Topics {
		if t.Topics[i] != other.Topics[i] {
			return false
		}
	}
	return true
}
