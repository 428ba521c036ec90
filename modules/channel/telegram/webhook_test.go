package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/mzhadan/chatforge/internal/channel"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []channel.Event
}

func (h *recordingHandler) handle(_ context.Context, ev channel.Event) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func updateJSON(t *testing.T, update Update) []byte {
	t.Helper()
	data, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	return data
}

func TestWebhookReceiver_DeliversEvent(t *testing.T) {
	h := &recordingHandler{}
	recv := NewWebhookReceiver(h.handle, channel.NewAllowList([]string{"100"}), discardLogger(), "")

	body := updateJSON(t, Update{
		UpdateID: 1,
		Message: &Message{
			MessageID: 10,
			From:      &User{ID: 100, Username: "alice"},
			Chat:      Chat{ID: 100, Type: "private"},
			Text:      "/start",
		},
	})

	if err := recv.HandleWebhook(context.Background(), "telegram", body, http.Header{}); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}
	if h.count() != 1 {
		t.Fatalf("events = %d, want 1", h.count())
	}
	if h.events[0].Text != "/start" {
		t.Errorf("Text = %q, want %q", h.events[0].Text, "/start")
	}
}

func TestWebhookReceiver_SecretToken(t *testing.T) {
	h := &recordingHandler{}
	recv := NewWebhookReceiver(h.handle, channel.NewAllowList([]string{"100"}), discardLogger(), "top-secret")

	body := updateJSON(t, Update{
		UpdateID: 1,
		Message: &Message{
			MessageID: 10,
			From:      &User{ID: 100},
			Chat:      Chat{ID: 100, Type: "private"},
			Text:      "hello",
		},
	})

	// Wrong token rejected.
	headers := http.Header{}
	headers.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	if err := recv.HandleWebhook(context.Background(), "telegram", body, headers); err == nil {
		t.Error("expected error for wrong secret token")
	}
	if h.count() != 0 {
		t.Fatalf("events = %d, want 0", h.count())
	}

	// Correct token accepted.
	headers.Set("X-Telegram-Bot-Api-Secret-Token", "top-secret")
	if err := recv.HandleWebhook(context.Background(), "telegram", body, headers); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}
	if h.count() != 1 {
		t.Fatalf("events = %d, want 1", h.count())
	}
}

func TestWebhookReceiver_InvalidJSON(t *testing.T) {
	recv := NewWebhookReceiver((&recordingHandler{}).handle, channel.NewAllowList(nil), discardLogger(), "")

	if err := recv.HandleWebhook(context.Background(), "telegram", []byte("{broken"), http.Header{}); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestWebhookReceiver_DeniedSender(t *testing.T) {
	h := &recordingHandler{}
	recv := NewWebhookReceiver(h.handle, channel.NewAllowList([]string{"100"}), discardLogger(), "")

	body := updateJSON(t, Update{
		UpdateID: 1,
		Message: &Message{
			MessageID: 10,
			From:      &User{ID: 999},
			Chat:      Chat{ID: 999, Type: "private"},
			Text:      "hello",
		},
	})

	// Denied senders are dropped silently, not errored: Telegram would
	// otherwise retry the same update forever.
	if err := recv.HandleWebhook(context.Background(), "telegram", body, http.Header{}); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}
	if h.count() != 0 {
		t.Errorf("events = %d, want 0", h.count())
	}
}

func TestWebhookReceiver_SkipsUnusableUpdates(t *testing.T) {
	h := &recordingHandler{}
	recv := NewWebhookReceiver(h.handle, channel.NewAllowList([]string{"100"}), discardLogger(), "")

	body := updateJSON(t, Update{UpdateID: 2, EditedMessage: &Message{Text: "edited"}})

	if err := recv.HandleWebhook(context.Background(), "telegram", body, http.Header{}); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}
	if h.count() != 0 {
		t.Errorf("events = %d, want 0", h.count())
	}
}
