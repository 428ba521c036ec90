package telegram

import (
	"errors"

	"github.com/mzhadan/chatforge/internal/channel"
)

var errNoContent = errors.New("update carries no usable content")

// convertEvent maps an incoming update to the platform-neutral event
// model. Edited messages and updates without a sender are skipped.
func convertEvent(update *Update) (channel.Event, error) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		ev := channel.Event{
			UpdateID: update.UpdateID,
			UserID:   cb.From.ID,
			Username: cb.From.Username,
			Callback: &channel.Callback{
				ID:   cb.ID,
				Data: cb.Data,
			},
		}
		if cb.Message != nil {
			ev.ChatID = cb.Message.Chat.ID
			ev.ChatType = cb.Message.Chat.Type
			ev.MessageID = cb.Message.MessageID
			ev.Callback.MessageID = cb.Message.MessageID
		}
		return ev, nil

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.From.IsBot {
			return channel.Event{}, errNoContent
		}
		if msg.Text == "" {
			return channel.Event{}, errNoContent
		}
		return channel.Event{
			UpdateID:  update.UpdateID,
			UserID:    msg.From.ID,
			Username:  msg.From.Username,
			ChatID:    msg.Chat.ID,
			ChatType:  msg.Chat.Type,
			MessageID: msg.MessageID,
			Text:      msg.Text,
		}, nil

	default:
		return channel.Event{}, errNoContent
	}
}

// buildReplyMarkup maps the neutral keyboard model to the Bot API
// reply_markup payload. Returns nil when no keyboard is requested.
func buildReplyMarkup(out channel.Outbound) any {
	switch {
	case len(out.InlineKeyboard) > 0:
		markup := InlineKeyboardMarkup{}
		for _, row := range out.InlineKeyboard {
			var btns []InlineKeyboardButton
			for _, b := range row {
				btns = append(btns, InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
			}
			markup.InlineKeyboard = append(markup.InlineKeyboard, btns)
		}
		return markup

	case len(out.ReplyKeyboard) > 0:
		markup := ReplyKeyboardMarkup{ResizeKeyboard: true}
		for _, row := range out.ReplyKeyboard {
			var btns []KeyboardButton
			for _, text := range row {
				btns = append(btns, KeyboardButton{Text: text})
			}
			markup.Keyboard = append(markup.Keyboard, btns)
		}
		return markup

	case out.RemoveKeyboard:
		return ReplyKeyboardRemove{RemoveKeyboard: true}

	default:
		return nil
	}
}
