package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mzhadan/chatforge/internal/provision"
	"github.com/mzhadan/chatforge/modules/channel/telegram"
)

// topicAdapter narrows the Bot API client to the surface the
// provisioning orchestrator needs and translates icon rejections into
// the sentinel it retries on.
type topicAdapter struct {
	api *telegram.Client
}

var _ provision.TopicAPI = (*topicAdapter)(nil)

func (t *topicAdapter) CreateTopic(ctx context.Context, chatID int64, title, iconID string) (int, error) {
	topic, err := t.api.CreateForumTopic(ctx, telegram.CreateForumTopicRequest{
		ChatID:            chatID,
		Name:              title,
		IconCustomEmojiID: iconID,
	})
	if err != nil {
		if iconID != "" && isIconRejection(err) {
			return 0, fmt.Errorf("%w: %v", provision.ErrIconRejected, err)
		}
		return 0, err
	}
	return topic.MessageThreadID, nil
}

func (t *topicAdapter) PostMessage(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := t.api.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Text:            text,
	})
	return err
}

// isIconRejection matches the Bad Request errors the Bot API raises for
// custom emoji that cannot be used as a topic icon.
func isIconRejection(err error) bool {
	var apiErr *telegram.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 400 {
		return false
	}
	desc := strings.ToLower(apiErr.Description)
	return strings.Contains(desc, "custom emoji") || strings.Contains(desc, "icon")
}
