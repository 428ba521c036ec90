// Package assistant is the hub module: it installs the dialog machine as
// the channel's inbound handler, owns the topic icon cache, and executes
// the long-running commands the machine produces (provisioning runs,
// deferred admin grants, icon probing).
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/channel"
	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/dialog"
	"github.com/mzhadan/chatforge/internal/gateway"
	"github.com/mzhadan/chatforge/internal/history"
	"github.com/mzhadan/chatforge/internal/icons"
	"github.com/mzhadan/chatforge/internal/provision"
	"github.com/mzhadan/chatforge/internal/scheduler"
	"github.com/mzhadan/chatforge/internal/store"
	"github.com/mzhadan/chatforge/internal/telemetry"
	"github.com/mzhadan/chatforge/modules/channel/telegram"
)

// ServiceName is the service registry key the assistant publishes itself
// under. The scheduler resolves it for periodic icon refreshes.
const ServiceName = "assistant"

// ownerService is where the user-account automation module publishes its
// client.
const ownerService = "owner.mtproto"

func init() {
	core.RegisterModule(&Assistant{})
}

// Compile-time interface guards.
var (
	_ core.Configurable       = (*Assistant)(nil)
	_ core.Provisioner        = (*Assistant)(nil)
	_ core.Validator          = (*Assistant)(nil)
	_ core.Starter            = (*Assistant)(nil)
	_ core.Stopper            = (*Assistant)(nil)
	_ scheduler.IconRefresher = (*Assistant)(nil)
)

// botAPIProvider is the forum surface the active channel module must
// expose beyond the Gateway contract.
type botAPIProvider interface {
	API() *telegram.Client
}

// Assistant ties the channel, the dialog machine, and the provisioning
// orchestrator together.
type Assistant struct {
	config Config
	logger *slog.Logger

	gateway channel.Gateway
	botAPI  *telegram.Client
	icons   *icons.Cache
	machine *dialog.Machine

	owner   provision.Owner
	granter provision.Granter
	store   store.Store
	history history.Recorder
	metrics *telemetry.Metrics
	hub     *gateway.ProgressHub

	// orch is built lazily on the first provisioning command because
	// the bot's username is only known once the channel has started.
	orchMu sync.Mutex
	orch   *provision.Orchestrator

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (a *Assistant) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "assistant",
		New: func() core.Module { return &Assistant{} },
	}
}

// Configure implements core.Configurable.
func (a *Assistant) Configure(node *yaml.Node) error {
	if err := node.Decode(&a.config); err != nil {
		return fmt.Errorf("assistant: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. It resolves the channel, store,
// and owner services (the assistant must be listed after them), builds
// the dialog machine, and installs it as the inbound handler.
func (a *Assistant) Provision(ctx *core.AppContext) error {
	a.config.defaults()
	a.logger = ctx.Logger

	svc, err := ctx.Service(channel.ServiceName)
	if err != nil {
		return fmt.Errorf("assistant: %w", err)
	}
	gw, ok := svc.(channel.Gateway)
	if !ok {
		return fmt.Errorf("assistant: service %q is not a channel gateway", channel.ServiceName)
	}
	api, ok := svc.(botAPIProvider)
	if !ok {
		return fmt.Errorf("assistant: service %q does not expose the forum Bot API", channel.ServiceName)
	}
	a.gateway = gw
	a.botAPI = api.API()

	svc, err = ctx.Service(store.ServiceName)
	if err != nil {
		return fmt.Errorf("assistant: %w", err)
	}
	st, ok := svc.(store.Store)
	if !ok {
		return fmt.Errorf("assistant: service %q is not a template store", store.ServiceName)
	}
	a.store = st

	svc, err = ctx.Service(ownerService)
	if err != nil {
		return fmt.Errorf("assistant: %w", err)
	}
	owner, ok := svc.(provision.Owner)
	if !ok {
		return fmt.Errorf("assistant: service %q is not an owner surface", ownerService)
	}
	a.owner = owner
	if g, ok := svc.(provision.Granter); ok {
		a.granter = g
	}

	// History, metrics, and the progress hub are optional collaborators.
	if svc, err := ctx.Service(history.ServiceName); err == nil {
		if rec, ok := svc.(history.Recorder); ok {
			a.history = rec
		}
	} else {
		a.logger.Info("run history disabled", "reason", err)
	}
	if svc, err := ctx.Service(telemetry.MetricsService); err == nil {
		if m, ok := svc.(*telemetry.Metrics); ok {
			a.metrics = m
		}
	}
	if svc, err := ctx.Service(gateway.ProgressHubService); err == nil {
		if hub, ok := svc.(*gateway.ProgressHub); ok {
			a.hub = hub
		}
	}

	path := a.config.IconsFile
	if path == "" {
		path = filepath.Join(ctx.DataDir, icons.DefaultFile)
	}
	a.icons = icons.NewCache(path, ctx.Logger)
	if _, err := a.icons.Load(); err != nil {
		a.logger.Warn("icon cache load failed, starting empty", "path", path, "error", err)
	}

	a.machine = dialog.NewMachine(a.store, a.icons, ctx.Logger)
	a.gateway.SetHandler(a.handleEvent)

	a.runCtx, a.cancel = context.WithCancel(context.Background())

	if err := ctx.RegisterService(icons.CacheService, a.icons); err != nil {
		return err
	}
	return ctx.RegisterService(ServiceName, a)
}

// Validate implements core.Validator.
func (a *Assistant) Validate() error {
	return a.config.validate()
}

// Start implements core.Starter.
func (a *Assistant) Start() error {
	if a.config.ProbeChatID == 0 {
		a.logger.Warn("probe_chat_id not set, icon refresh is disabled")
	}
	a.logger.Info("assistant ready",
		"icons", a.icons.Len(),
		"history", a.history != nil,
		"deferred_grants", a.granter != nil,
	)
	return nil
}

// Stop implements core.Stopper. It cancels in-flight commands and waits
// for them to return.
func (a *Assistant) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleEvent is the channel's inbound handler: one dialog step plus
// dispatch of whatever long-running command the step produced.
func (a *Assistant) handleEvent(ctx context.Context, ev channel.Event) error {
	a.metrics.RecordUpdate()

	in := dialog.Input{Text: ev.Text}
	if ev.Callback != nil {
		in = dialog.Input{Callback: ev.Callback.Data}
	}
	reply, cmd := a.machine.Step(ev.UserID, in)

	if ev.Callback != nil {
		if err := a.gateway.AckCallback(ctx, ev.Callback.ID, ""); err != nil {
			a.logger.Warn("callback ack failed", "error", err)
		}
	}
	if err := a.send(ctx, ev.ChatID, reply); err != nil {
		return fmt.Errorf("assistant: deliver reply: %w", err)
	}
	if cmd != nil {
		a.dispatch(ev.UserID, ev.ChatID, cmd)
	}
	return nil
}

func (a *Assistant) send(ctx context.Context, chatID int64, r dialog.Reply) error {
	if r.Text == "" {
		return nil
	}
	return a.gateway.SendReply(ctx, channel.Outbound{
		ChatID:         chatID,
		Text:           r.Text,
		ReplyKeyboard:  r.ReplyKeyboard,
		InlineKeyboard: r.InlineKeyboard,
		RemoveKeyboard: r.RemoveKeyboard,
	})
}

// orchestrator returns the provisioning orchestrator, building it on
// first use once the bot's username is known.
func (a *Assistant) orchestrator() (*provision.Orchestrator, error) {
	a.orchMu.Lock()
	defer a.orchMu.Unlock()
	if a.orch != nil {
		return a.orch, nil
	}

	username := a.gateway.BotUsername()
	if username == "" {
		return nil, errors.New("assistant: bot username unknown, channel not started yet")
	}
	orch, err := provision.New(provision.Config{
		Owner:       a.owner,
		Topics:      &topicAdapter{api: a.botAPI},
		Icons:       a.icons,
		Store:       a.store,
		History:     a.history,
		Metrics:     a.metrics,
		Logger:      a.logger,
		BotUsername: username,
	})
	if err != nil {
		return nil, err
	}
	a.orch = orch
	return orch, nil
}
