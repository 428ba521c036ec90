package telegram

import "context"

// CreateForumTopicRequest is the request body for the createForumTopic method.
type CreateForumTopicRequest struct {
	ChatID            int64  `json:"chat_id"`
	Name              string `json:"name"`
	IconColor         int    `json:"icon_color,omitempty"`
	IconCustomEmojiID string `json:"icon_custom_emoji_id,omitempty"`
}

// EditForumTopicRequest is the request body for the editForumTopic method.
// Omitting Name keeps the current title; an explicit empty
// IconCustomEmojiID removes the icon, so the field is a pointer.
type EditForumTopicRequest struct {
	ChatID            int64   `json:"chat_id"`
	MessageThreadID   int     `json:"message_thread_id"`
	Name              string  `json:"name,omitempty"`
	IconCustomEmojiID *string `json:"icon_custom_emoji_id,omitempty"`
}

// deleteForumTopicRequest is the request body for the deleteForumTopic method.
type deleteForumTopicRequest struct {
	ChatID          int64 `json:"chat_id"`
	MessageThreadID int   `json:"message_thread_id"`
}

// CreateForumTopic creates a topic in a forum supergroup and returns it.
// The bot must be an administrator with the can_manage_topics right.
func (c *Client) CreateForumTopic(ctx context.Context, req CreateForumTopicRequest) (*ForumTopic, error) {
	return do[ForumTopic](ctx, c, "createForumTopic", req)
}

// EditForumTopic changes a topic's title or icon.
func (c *Client) EditForumTopic(ctx context.Context, req EditForumTopicRequest) error {
	_, err := do[bool](ctx, c, "editForumTopic", req)
	return err
}

// DeleteForumTopic deletes a topic along with all its messages.
func (c *Client) DeleteForumTopic(ctx context.Context, chatID int64, messageThreadID int) error {
	_, err := do[bool](ctx, c, "deleteForumTopic", deleteForumTopicRequest{
		ChatID:          chatID,
		MessageThreadID: messageThreadID,
	})
	return err
}

// GetForumTopicIconStickers returns the custom emoji stickers usable as
// topic icons. These are the candidates the icon capability cache probes.
func (c *Client) GetForumTopicIconStickers(ctx context.Context) ([]Sticker, error) {
	result, err := do[[]Sticker](ctx, c, "getForumTopicIconStickers", nil)
	if err != nil {
		return nil, err
	}
	return *result, nil
}
