// Package telegram implements the Telegram Bot API channel for chatforge.
//
// It bridges Telegram updates to the platform-neutral channel model,
// supporting:
//
//   - Inbound conversion of messages and inline-button callbacks
//   - Outbound replies with reply keyboards and inline keyboards,
//     automatically chunked via channel.SplitText
//   - Two delivery modes: long-polling (default) and webhook
//   - Forum topic management: create, edit, delete, and the icon sticker
//     listing used to build the icon capability cache
//
// The module registers itself as "channel.telegram" via init() and
// publishes a channel.Gateway to the service registry during provisioning.
//
// No external Telegram library is used — the module communicates with the
// Bot API via raw net/http + encoding/json.
package telegram
