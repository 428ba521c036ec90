package telegram

import (
	"errors"
	"testing"

	"github.com/mzhadan/chatforge/internal/channel"
)

func TestConvertEvent_Message(t *testing.T) {
	update := &Update{
		UpdateID: 500,
		Message: &Message{
			MessageID: 10,
			From:      &User{ID: 42, Username: "alice"},
			Chat:      Chat{ID: 42, Type: "private"},
			Text:      "/create_topic",
		},
	}

	ev, err := convertEvent(update)
	if err != nil {
		t.Fatalf("convertEvent() error: %v", err)
	}
	if ev.UserID != 42 {
		t.Errorf("UserID = %d, want 42", ev.UserID)
	}
	if ev.Username != "alice" {
		t.Errorf("Username = %q, want %q", ev.Username, "alice")
	}
	if ev.Text != "/create_topic" {
		t.Errorf("Text = %q, want %q", ev.Text, "/create_topic")
	}
	if ev.Callback != nil {
		t.Error("Callback should be nil for plain messages")
	}
}

func TestConvertEvent_CallbackQuery(t *testing.T) {
	update := &Update{
		UpdateID: 501,
		CallbackQuery: &CallbackQuery{
			ID:   "cb-9",
			From: User{ID: 42, Username: "alice"},
			Message: &Message{
				MessageID: 77,
				Chat:      Chat{ID: -100123, Type: "supergroup"},
			},
			Data: "tpl:standup:create",
		},
	}

	ev, err := convertEvent(update)
	if err != nil {
		t.Fatalf("convertEvent() error: %v", err)
	}
	if ev.Callback == nil {
		t.Fatal("Callback is nil")
	}
	if ev.Callback.ID != "cb-9" {
		t.Errorf("Callback.ID = %q, want %q", ev.Callback.ID, "cb-9")
	}
	if ev.Callback.Data != "tpl:standup:create" {
		t.Errorf("Callback.Data = %q, want %q", ev.Callback.Data, "tpl:standup:create")
	}
	if ev.ChatID != -100123 {
		t.Errorf("ChatID = %d, want -100123", ev.ChatID)
	}
	if ev.MessageID != 77 {
		t.Errorf("MessageID = %d, want 77", ev.MessageID)
	}
}

func TestConvertEvent_Skipped(t *testing.T) {
	tests := []struct {
		name   string
		update *Update
	}{
		{"empty update", &Update{UpdateID: 1}},
		{"edited message only", &Update{UpdateID: 2, EditedMessage: &Message{Text: "edited"}}},
		{"message without sender", &Update{UpdateID: 3, Message: &Message{Text: "hi"}}},
		{"message from bot", &Update{UpdateID: 4, Message: &Message{
			From: &User{ID: 9, IsBot: true}, Text: "hi",
		}}},
		{"message without text", &Update{UpdateID: 5, Message: &Message{
			From: &User{ID: 42},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := convertEvent(tt.update)
			if !errors.Is(err, errNoContent) {
				t.Errorf("convertEvent() error = %v, want errNoContent", err)
			}
		})
	}
}

func TestBuildReplyMarkup_Inline(t *testing.T) {
	out := channel.Outbound{
		InlineKeyboard: [][]channel.InlineButton{
			{{Text: "Yes", Data: "confirm:yes"}, {Text: "No", Data: "confirm:no"}},
		},
	}

	markup, ok := buildReplyMarkup(out).(InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("markup type = %T, want InlineKeyboardMarkup", buildReplyMarkup(out))
	}
	if len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("keyboard shape = %v, want 1 row of 2", markup.InlineKeyboard)
	}
	if markup.InlineKeyboard[0][0].CallbackData != "confirm:yes" {
		t.Errorf("CallbackData = %q, want %q", markup.InlineKeyboard[0][0].CallbackData, "confirm:yes")
	}
}

func TestBuildReplyMarkup_Reply(t *testing.T) {
	out := channel.Outbound{
		ReplyKeyboard: [][]string{{"⚡ Create chat", "💾 Save template"}, {"❌ Cancel"}},
	}

	markup, ok := buildReplyMarkup(out).(ReplyKeyboardMarkup)
	if !ok {
		t.Fatalf("markup type = %T, want ReplyKeyboardMarkup", buildReplyMarkup(out))
	}
	if !markup.ResizeKeyboard {
		t.Error("ResizeKeyboard should be set")
	}
	if len(markup.Keyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(markup.Keyboard))
	}
	if markup.Keyboard[1][0].Text != "❌ Cancel" {
		t.Errorf("button = %q, want %q", markup.Keyboard[1][0].Text, "❌ Cancel")
	}
}

func TestBuildReplyMarkup_Remove(t *testing.T) {
	markup, ok := buildReplyMarkup(channel.Outbound{RemoveKeyboard: true}).(ReplyKeyboardRemove)
	if !ok {
		t.Fatal("want ReplyKeyboardRemove")
	}
	if !markup.RemoveKeyboard {
		t.Error("RemoveKeyboard should be set")
	}
}

func TestBuildReplyMarkup_None(t *testing.T) {
	if got := buildReplyMarkup(channel.Outbound{Text: "plain"}); got != nil {
		t.Errorf("markup = %v, want nil", got)
	}
}
