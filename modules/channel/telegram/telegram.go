package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/channel"
	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/gateway"
)

func init() {
	core.RegisterModule(&Telegram{})
}

// Compile-time interface guards.
var (
	_ channel.Gateway   = (*Telegram)(nil)
	_ core.Configurable = (*Telegram)(nil)
	_ core.Provisioner  = (*Telegram)(nil)
	_ core.Validator    = (*Telegram)(nil)
	_ core.Starter      = (*Telegram)(nil)
	_ core.Stopper      = (*Telegram)(nil)
)

// commands is the menu published via setMyCommands at startup.
var commands = []BotCommand{
	{Command: "start", Description: "Open the main menu"},
	{Command: "create_topic", Description: "Design a new forum chat template"},
	{Command: "show_topic_icons", Description: "List topic icons known to work"},
	{Command: "refresh_topic_icons", Description: "Re-probe the topic icon set"},
	{Command: "test_topic_icons", Description: "Check the icon set against the sticker list"},
}

// Telegram implements the Telegram Bot API channel for chatforge.
type Telegram struct {
	config    Config
	client    *Client
	logger    *slog.Logger
	allowList *channel.AllowList
	handler   channel.Handler
	botUser   *User
	appCtx    *core.AppContext

	// Set during Start() depending on mode.
	poller          *Poller
	webhookReceiver *WebhookReceiver
}

// ModuleInfo implements core.Module.
func (t *Telegram) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "channel.telegram",
		New: func() core.Module { return &Telegram{} },
	}
}

// Configure implements core.Configurable.
func (t *Telegram) Configure(node *yaml.Node) error {
	if err := node.Decode(&t.config); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	t.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (t *Telegram) Provision(ctx *core.AppContext) error {
	t.appCtx = ctx
	t.logger = ctx.Logger
	t.client = NewClient(t.config.Token, t.config.APIURL)
	t.allowList = channel.NewAllowList(t.config.AllowUsers)
	return ctx.RegisterService(channel.ServiceName, t)
}

// Validate implements core.Validator.
func (t *Telegram) Validate() error {
	if t.config.Token == "" {
		return errors.New("telegram: token is required")
	}
	switch t.config.Mode {
	case "polling", "webhook":
	default:
		return fmt.Errorf("telegram: invalid mode %q (must be \"polling\" or \"webhook\")", t.config.Mode)
	}
	if t.config.Mode == "webhook" && t.config.WebhookURL == "" {
		return errors.New("telegram: webhook_url is required when mode is \"webhook\"")
	}
	return t.config.validate()
}

// Start implements core.Starter. It validates the bot token, publishes the
// command menu, then starts either polling or webhook mode.
func (t *Telegram) Start() error {
	if t.handler == nil {
		return errors.New("telegram: no inbound handler installed (is the assistant module loaded?)")
	}

	user, err := t.client.GetMe(context.Background())
	if err != nil {
		return fmt.Errorf("telegram: getMe failed (check token): %w", err)
	}
	t.botUser = user
	t.logger.Info("telegram bot authenticated",
		"id", user.ID,
		"username", user.Username,
	)

	if err := t.client.SetMyCommands(context.Background(), commands); err != nil {
		t.logger.Warn("telegram: setMyCommands failed", "error", err)
	}

	switch t.config.Mode {
	case "polling":
		t.poller = NewPoller(t.client, t.handler, t.allowList, t.logger, t.config)
		t.poller.Start()
		t.logger.Info("telegram polling started",
			"timeout", t.config.PollingTimeout,
		)

	case "webhook":
		if t.config.WebhookSecret == "" {
			t.logger.Warn("telegram webhook running without secret_token — " +
				"consider setting webhook_secret for production deployments")
		}
		t.webhookReceiver = NewWebhookReceiver(t.handler, t.allowList, t.logger, t.config.WebhookSecret)

		if err := t.registerWebhook(); err != nil {
			return err
		}

		if err := t.client.SetWebhook(context.Background(), SetWebhookRequest{
			URL:            t.config.WebhookURL,
			SecretToken:    t.config.WebhookSecret,
			AllowedUpdates: t.config.AllowedUpdates,
		}); err != nil {
			return fmt.Errorf("telegram: setWebhook failed: %w", err)
		}
		t.logger.Info("telegram webhook configured",
			"url", t.config.WebhookURL,
		)
	}

	return nil
}

// registerWebhook resolves the gateway webhook dispatcher from the service
// registry and registers the WebhookReceiver as a handler.
func (t *Telegram) registerWebhook() error {
	svc, err := t.appCtx.Service(gateway.WebhookDispatcherService)
	if err != nil {
		return errors.New("telegram: webhook dispatcher service not found (is the gateway module loaded?)")
	}

	dispatcher, ok := svc.(*gateway.WebhookDispatcher)
	if !ok {
		return fmt.Errorf("telegram: unexpected webhook dispatcher type %T", svc)
	}

	// Empty HMAC secret — Telegram uses its own X-Telegram-Bot-Api-Secret-Token
	// header instead of HMAC-SHA256. Validation happens inside HandleWebhook.
	dispatcher.Register("telegram", t.webhookReceiver, "")
	return nil
}

// Stop implements core.Stopper.
func (t *Telegram) Stop(ctx context.Context) error {
	t.logger.Info("telegram channel stopping")

	switch t.config.Mode {
	case "polling":
		if t.poller != nil {
			t.poller.Stop()
		}
	case "webhook":
		if err := t.client.DeleteWebhook(ctx); err != nil {
			t.logger.Warn("telegram: failed to delete webhook on shutdown", "error", err)
		}
	}

	return nil
}

// SetHandler implements channel.Gateway.
func (t *Telegram) SetHandler(h channel.Handler) {
	t.handler = h
}

// BotUsername implements channel.Gateway.
func (t *Telegram) BotUsername() string {
	if t.botUser == nil {
		return ""
	}
	return t.botUser.Username
}

// SendReply implements channel.Sender. Long texts are chunked at line
// boundaries; the keyboard rides on the last chunk.
func (t *Telegram) SendReply(ctx context.Context, out channel.Outbound) error {
	chunks := channel.SplitText(out.Text, t.config.MaxMessageLength)
	markup := buildReplyMarkup(out)

	for i, chunk := range chunks {
		req := SendMessageRequest{
			ChatID:          out.ChatID,
			MessageThreadID: out.ThreadID,
			Text:            chunk,
		}
		if i == len(chunks)-1 {
			req.ReplyMarkup = markup
		}
		if _, err := t.client.SendMessage(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// AckCallback implements channel.Sender.
func (t *Telegram) AckCallback(ctx context.Context, callbackID, text string) error {
	return t.client.AnswerCallbackQuery(ctx, AnswerCallbackQueryRequest{
		CallbackQueryID: callbackID,
		Text:            text,
	})
}

// API returns the underlying Bot API client for modules that need forum
// operations beyond the Gateway surface.
func (t *Telegram) API() *Client {
	return t.client
}
