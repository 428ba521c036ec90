// Package channel defines the bridge between the messaging platform and
// the dialog layer: a platform-neutral inbound event, an outbound reply
// model with keyboards, allow-list filtering, and message chunking.
package channel

import "context"

// ServiceName is the service registry key the active channel module
// publishes its Gateway under.
const ServiceName = "channel.gateway"

// Event is one inbound interaction, converted from the platform's update
// format. Exactly one of Text or Callback carries the user's input.
type Event struct {
	UpdateID  int
	UserID    int64
	Username  string
	ChatID    int64
	ChatType  string
	MessageID int

	// Text is the message text, including commands like "/start".
	Text string

	// Callback is set for inline keyboard button presses.
	Callback *Callback
}

// Callback identifies an inline button press.
type Callback struct {
	ID        string
	Data      string
	MessageID int
}

// InlineButton is one button of an inline keyboard.
type InlineButton struct {
	Text string
	Data string
}

// Outbound is a reply to deliver to a chat. At most one of ReplyKeyboard,
// InlineKeyboard, or RemoveKeyboard is honored.
type Outbound struct {
	ChatID   int64
	ThreadID int
	Text     string

	ReplyKeyboard  [][]string
	InlineKeyboard [][]InlineButton
	RemoveKeyboard bool
}

// Handler consumes inbound events. The dialog layer installs one before
// the channel starts receiving.
type Handler func(ctx context.Context, ev Event) error

// Sender delivers replies and acknowledges callbacks.
type Sender interface {
	SendReply(ctx context.Context, out Outbound) error
	AckCallback(ctx context.Context, callbackID, text string) error
}

// Gateway is what a channel module publishes to the service registry: a
// way to send replies plus the hook for installing the inbound handler.
type Gateway interface {
	Sender

	// SetHandler installs the inbound event handler. Must be called
	// before the channel module starts.
	SetHandler(h Handler)

	// BotUsername returns the authenticated bot's username, available
	// after the channel has started.
	BotUsername() string
}
