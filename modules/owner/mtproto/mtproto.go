// Package mtproto is the owner surface: a user-account MTProto client
// (gotd/td) that does what bots cannot, creating forum supergroups,
// inviting the bot, and managing members. The account must be authorized
// out of band; this module only resumes a stored session.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/provision"
)

func init() {
	core.RegisterModule(&Module{})
}

// ServiceName is the service registry key the owner surface is published
// under.
const ServiceName = "owner.mtproto"

// defaultSessionFile is the session path under the data directory.
const defaultSessionFile = "owner.session"

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)

	_ provision.Owner   = (*Client)(nil)
	_ provision.Granter = (*Client)(nil)
)

// Module runs the MTProto client and publishes the owner surface.
type Module struct {
	config Config
	logger *slog.Logger
	client *Client

	tg     *telegram.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ServiceName,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("mtproto: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The surface is registered here,
// before the session is up; operations fail with ErrNotConnected until
// Start completes.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.SessionFile == "" {
		m.config.SessionFile = filepath.Join(ctx.DataDir, defaultSessionFile)
	}

	m.client = NewClient(ctx.Logger)
	return ctx.RegisterService(ServiceName, m.client)
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. It connects, verifies the stored
// session is authorized, and keeps the connection running until Stop.
func (m *Module) Start() error {
	m.tg = telegram.NewClient(m.config.APIID, m.config.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: m.config.SessionFile},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	ready := make(chan error, 1)

	go func() {
		defer close(m.done)
		err := m.tg.Run(runCtx, func(ctx context.Context) error {
			status, err := m.tg.Auth().Status(ctx)
			if err != nil {
				ready <- fmt.Errorf("mtproto: auth status: %w", err)
				return err
			}
			if !status.Authorized {
				err := errors.New("mtproto: session not authorized, log the owner account in first")
				ready <- err
				return err
			}
			m.client.connect(m.tg.API())
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("mtproto client stopped", "error", err)
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-m.done
			return err
		}
	case <-time.After(m.config.StartTimeout):
		cancel()
		<-m.done
		return fmt.Errorf("mtproto: connection not ready within %s", m.config.StartTimeout)
	}

	m.logger.Info("owner surface connected", "session", m.config.SessionFile)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
