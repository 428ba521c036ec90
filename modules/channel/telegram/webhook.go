package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mzhadan/chatforge/internal/channel"
)

// WebhookReceiver processes incoming Telegram webhook payloads.
// It implements gateway.WebhookHandler.
type WebhookReceiver struct {
	handler   channel.Handler
	allowList *channel.AllowList
	logger    *slog.Logger
	secret    string
}

// NewWebhookReceiver creates a new WebhookReceiver.
func NewWebhookReceiver(handler channel.Handler, allowList *channel.AllowList, logger *slog.Logger, secret string) *WebhookReceiver {
	return &WebhookReceiver{
		handler:   handler,
		allowList: allowList,
		logger:    logger,
		secret:    secret,
	}
}

// HandleWebhook processes a webhook payload from the gateway dispatcher.
// It validates the Telegram-specific secret token header, parses the
// update, checks the allow list, and hands the event to the dialog layer.
func (w *WebhookReceiver) HandleWebhook(ctx context.Context, _ string, body []byte, headers http.Header) error {
	// Validate Telegram's secret token header if configured.
	if w.secret != "" {
		token := headers.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(w.secret), []byte(token)) != 1 {
			return errors.New("telegram: invalid webhook secret token")
		}
	}

	var update Update
	if err := json.Unmarshal(body, &update); err != nil {
		return errors.New("telegram: invalid update JSON: " + err.Error())
	}

	ev, err := convertEvent(&update)
	if err != nil {
		w.logger.Debug("skipping webhook update", "update_id", update.UpdateID, "reason", err)
		return nil
	}

	if !w.allowList.IsAllowed(ev) {
		w.logger.Debug("webhook update denied by allow list",
			"update_id", update.UpdateID,
			"sender", ev.UserID,
			"chat", ev.ChatID,
		)
		return nil
	}

	return w.handler(ctx, ev)
}
