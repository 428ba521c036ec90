package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// ErrNotConnected is returned when an operation runs before the MTProto
// session is up.
var ErrNotConnected = errors.New("mtproto: not connected")

// botChatIDBase converts between MTProto channel IDs and the Bot API's
// "-100…" supergroup chat IDs.
const botChatIDBase = int64(-1000000000000)

// BotChatID returns the Bot API chat ID for an MTProto channel ID.
func BotChatID(channelID int64) int64 {
	return botChatIDBase - channelID
}

// channelIDOf inverts BotChatID.
func channelIDOf(botChatID int64) int64 {
	return botChatIDBase - botChatID
}

// invoker is the slice of tg.Client the owner surface calls. Narrowed so
// tests can fake it.
type invoker interface {
	ChannelsCreateChannel(ctx context.Context, request *tg.ChannelsCreateChannelRequest) (tg.UpdatesClass, error)
	ChannelsInviteToChannel(ctx context.Context, request *tg.ChannelsInviteToChannelRequest) (*tg.MessagesInvitedUsers, error)
	ChannelsEditAdmin(ctx context.Context, request *tg.ChannelsEditAdminRequest) (tg.UpdatesClass, error)
	ChannelsGetParticipant(ctx context.Context, request *tg.ChannelsGetParticipantRequest) (*tg.ChannelsChannelParticipant, error)
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	MessagesExportChatInvite(ctx context.Context, request *tg.MessagesExportChatInviteRequest) (tg.ExportedChatInviteClass, error)
	UsersGetUsers(ctx context.Context, id []tg.InputUserClass) ([]tg.UserClass, error)
}

// Client is the user-account automation surface. All chat IDs crossing
// its boundary are Bot API IDs ("-100…"); access hashes for channels the
// account created this session are remembered internally.
type Client struct {
	logger *slog.Logger

	mu     sync.RWMutex
	api    invoker
	hashes map[int64]int64 // channel ID -> access hash
}

// NewClient creates a surface that is not yet connected. The module
// installs the API invoker once the MTProto session is up.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger: logger,
		hashes: map[int64]int64{},
	}
}

// connect installs the live API client.
func (c *Client) connect(api invoker) {
	c.mu.Lock()
	c.api = api
	c.mu.Unlock()
}

func (c *Client) invoker() (invoker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return nil, ErrNotConnected
	}
	return c.api, nil
}

// channel returns an InputChannel for a Bot API chat ID. Only channels
// created through this surface are known; anything else was created in a
// previous process and cannot be addressed without its access hash.
func (c *Client) channel(botChatID int64) (*tg.InputChannel, error) {
	id := channelIDOf(botChatID)
	c.mu.RLock()
	hash, ok := c.hashes[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mtproto: unknown chat %d", botChatID)
	}
	return &tg.InputChannel{ChannelID: id, AccessHash: hash}, nil
}

// resolveUser resolves a bare user ID to an InputUser. This works for
// users the account has seen; privacy-restricted strangers fail here and
// fall back to the invite link.
func (c *Client) resolveUser(ctx context.Context, api invoker, userID int64) (*tg.InputUser, error) {
	users, err := api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUser{UserID: userID}})
	if err != nil {
		return nil, fmt.Errorf("mtproto: resolve user %d: %w", userID, err)
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok && user.ID == userID {
			return &tg.InputUser{UserID: user.ID, AccessHash: user.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("mtproto: user %d not found", userID)
}

// CreateForumGroup creates a forum supergroup and returns its Bot API
// chat ID.
func (c *Client) CreateForumGroup(ctx context.Context, title, description string) (int64, error) {
	api, err := c.invoker()
	if err != nil {
		return 0, err
	}

	updates, err := api.ChannelsCreateChannel(ctx, &tg.ChannelsCreateChannelRequest{
		Megagroup: true,
		Forum:     true,
		Title:     title,
		About:     description,
	})
	if err != nil {
		return 0, fmt.Errorf("mtproto: create channel: %w", err)
	}

	ch := channelFromUpdates(updates)
	if ch == nil {
		return 0, errors.New("mtproto: create channel: no channel in response")
	}

	c.mu.Lock()
	c.hashes[ch.ID] = ch.AccessHash
	c.mu.Unlock()

	c.logger.Info("forum supergroup created", "title", title, "channel", ch.ID)
	return BotChatID(ch.ID), nil
}

// channelFromUpdates digs the created channel out of an updates result.
func channelFromUpdates(u tg.UpdatesClass) *tg.Channel {
	updates, ok := u.(*tg.Updates)
	if !ok {
		return nil
	}
	for _, chat := range updates.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return ch
		}
	}
	return nil
}

// SetupBot invites the bot into the group by username and promotes it
// with topic-management rights.
func (c *Client) SetupBot(ctx context.Context, chatID int64, botUsername string) error {
	api, err := c.invoker()
	if err != nil {
		return err
	}
	channel, err := c.channel(chatID)
	if err != nil {
		return err
	}

	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: botUsername,
	})
	if err != nil {
		return fmt.Errorf("mtproto: resolve bot @%s: %w", botUsername, err)
	}
	var bot *tg.User
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok && user.Bot {
			bot = user
			break
		}
	}
	if bot == nil {
		return fmt.Errorf("mtproto: @%s did not resolve to a bot", botUsername)
	}
	botInput := &tg.InputUser{UserID: bot.ID, AccessHash: bot.AccessHash}

	if _, err := api.ChannelsInviteToChannel(ctx, &tg.ChannelsInviteToChannelRequest{
		Channel: channel,
		Users:   []tg.InputUserClass{botInput},
	}); err != nil {
		return fmt.Errorf("mtproto: invite bot: %w", err)
	}

	if _, err := api.ChannelsEditAdmin(ctx, &tg.ChannelsEditAdminRequest{
		Channel:     channel,
		UserID:      botInput,
		AdminRights: botAdminRights(),
		Rank:        "bot",
	}); err != nil {
		return fmt.Errorf("mtproto: promote bot: %w", err)
	}
	return nil
}

// botAdminRights is everything the bot needs to manage the forum.
func botAdminRights() tg.ChatAdminRights {
	return tg.ChatAdminRights{
		ChangeInfo:     true,
		PostMessages:   true,
		EditMessages:   true,
		DeleteMessages: true,
		BanUsers:       true,
		InviteUsers:    true,
		PinMessages:    true,
		ManageCall:     true,
		ManageTopics:   true,
	}
}

// memberAdminRights is what a requesting user gets on their new chat.
func memberAdminRights() tg.ChatAdminRights {
	return tg.ChatAdminRights{
		ChangeInfo:     true,
		DeleteMessages: true,
		BanUsers:       true,
		InviteUsers:    true,
		PinMessages:    true,
		ManageCall:     true,
		ManageTopics:   true,
		AddAdmins:      true,
	}
}

// AddMember adds a user to the group. Privacy settings can forbid this;
// the caller falls back to the invite link.
func (c *Client) AddMember(ctx context.Context, chatID int64, userID int64) error {
	api, err := c.invoker()
	if err != nil {
		return err
	}
	channel, err := c.channel(chatID)
	if err != nil {
		return err
	}
	user, err := c.resolveUser(ctx, api, userID)
	if err != nil {
		return err
	}
	if _, err := api.ChannelsInviteToChannel(ctx, &tg.ChannelsInviteToChannelRequest{
		Channel: channel,
		Users:   []tg.InputUserClass{user},
	}); err != nil {
		return fmt.Errorf("mtproto: add user %d: %w", userID, err)
	}
	return nil
}

// PromoteMember grants a group member admin rights.
func (c *Client) PromoteMember(ctx context.Context, chatID int64, userID int64) error {
	api, err := c.invoker()
	if err != nil {
		return err
	}
	channel, err := c.channel(chatID)
	if err != nil {
		return err
	}
	user, err := c.resolveUser(ctx, api, userID)
	if err != nil {
		return err
	}
	if _, err := api.ChannelsEditAdmin(ctx, &tg.ChannelsEditAdminRequest{
		Channel:     channel,
		UserID:      user,
		AdminRights: memberAdminRights(),
		Rank:        "admin",
	}); err != nil {
		return fmt.Errorf("mtproto: promote user %d: %w", userID, err)
	}
	return nil
}

// CheckMembership reports whether the user has joined the group. "Not a
// participant" is a negative answer, not an error.
func (c *Client) CheckMembership(ctx context.Context, chatID int64, userID int64) (bool, error) {
	api, err := c.invoker()
	if err != nil {
		return false, err
	}
	channel, err := c.channel(chatID)
	if err != nil {
		return false, err
	}
	user, err := c.resolveUser(ctx, api, userID)
	if err != nil {
		return false, err
	}
	_, err = api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     channel,
		Participant: &tg.InputPeerUser{UserID: user.UserID, AccessHash: user.AccessHash},
	})
	if tgerr.Is(err, "USER_NOT_PARTICIPANT") {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mtproto: get participant: %w", err)
	}
	return true, nil
}

// ExportInviteLink exports a primary invite link for the group.
func (c *Client) ExportInviteLink(ctx context.Context, chatID int64) (string, error) {
	api, err := c.invoker()
	if err != nil {
		return "", err
	}
	channel, err := c.channel(chatID)
	if err != nil {
		return "", err
	}
	invite, err := api.MessagesExportChatInvite(ctx, &tg.MessagesExportChatInviteRequest{
		Peer: &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
	})
	if err != nil {
		return "", fmt.Errorf("mtproto: export invite: %w", err)
	}
	exported, ok := invite.(*tg.ChatInviteExported)
	if !ok {
		return "", fmt.Errorf("mtproto: unexpected invite type %T", invite)
	}
	return exported.Link, nil
}
