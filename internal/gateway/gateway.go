// Package gateway provides the HTTP surface for monitoring and webhooks:
// health, Prometheus metrics, the Telegram webhook receiver, a WebSocket
// stream of provisioning progress, and an authenticated read-only admin
// API over templates and run history. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/history"
	"github.com/mzhadan/chatforge/internal/icons"
	"github.com/mzhadan/chatforge/internal/store"
	"github.com/mzhadan/chatforge/internal/telemetry"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module. It is a leaf module — nothing
// imports it.
type Gateway struct {
	config     Config
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	dispatcher *WebhookDispatcher
	progress   *ProgressHub
	startedAt  time.Time

	// Resolved lazily at Start() via service registry.
	registry *prometheus.Registry
	store    store.Store
	history  history.Recorder
	icons    iconCounter
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.dispatcher = NewWebhookDispatcher(g.logger)
	g.progress = NewProgressHub(g.logger)

	if err := ctx.RegisterService(WebhookDispatcherService, g.dispatcher); err != nil {
		return err
	}
	return ctx.RegisterService(ProgressHubService, g.progress)
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves optional services from the
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	if svc, err := g.appCtx.Service(telemetry.RegistryService); err == nil {
		if reg, ok := svc.(*prometheus.Registry); ok {
			g.registry = reg
		}
	}
	if svc, err := g.appCtx.Service(store.ServiceName); err == nil {
		if st, ok := svc.(store.Store); ok {
			g.store = st
		}
	}
	if svc, err := g.appCtx.Service(history.ServiceName); err == nil {
		if rec, ok := svc.(history.Recorder); ok {
			g.history = rec
		}
	}
	if svc, err := g.appCtx.Service(icons.CacheService); err == nil {
		if c, ok := svc.(iconCounter); ok {
			g.icons = c
		}
	}

	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
