// Package core provides the module lifecycle for chatforge: a registry of
// named modules, an application context shared between them, and an App
// that configures, provisions, validates, starts, and stops modules in a
// deterministic order.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// stopTimeout bounds how long a module's Stop() may take during shutdown.
const stopTimeout = 10 * time.Second

// App owns the set of loaded module instances and drives their lifecycle.
type App struct {
	ctx     *AppContext
	logger  *slog.Logger
	modules []loadedModule
	started []loadedModule
}

type loadedModule struct {
	id       ModuleID
	instance Module
}

// NewApp creates an App around the given context.
func NewApp(ctx *AppContext) *App {
	return &App{ctx: ctx, logger: ctx.Logger}
}

// Context returns the application context shared by the loaded modules.
func (a *App) Context() *AppContext { return a.ctx }

// LoadModules instantiates and configures each module listed in configs,
// in the given order. Provision and Validate run per module, so a module
// can register services that later modules in the list look up.
func (a *App) LoadModules(order []ModuleID, configs map[ModuleID]*yaml.Node) error {
	a.ctx.WithModuleConfigs(configs)
	for _, id := range order {
		info, err := GetModule(id)
		if err != nil {
			return err
		}
		instance := info.New()

		if c, ok := instance.(Configurable); ok {
			if node := configs[id]; node != nil {
				if err := c.Configure(node); err != nil {
					return fmt.Errorf("configuring module %s: %w", id, err)
				}
			}
		}
		if p, ok := instance.(Provisioner); ok {
			if err := p.Provision(a.ctx.ForModule(id)); err != nil {
				return fmt.Errorf("provisioning module %s: %w", id, err)
			}
		}
		if v, ok := instance.(Validator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("validating module %s: %w", id, err)
			}
		}

		a.modules = append(a.modules, loadedModule{id: id, instance: instance})
		a.logger.Debug("module loaded", "module", string(id))
	}
	return nil
}

// AppendModule adds an already provisioned module instance to the app so
// it participates in Start and Stop. Used for modules constructed outside
// the config-driven load path.
func (a *App) AppendModule(id ModuleID, instance Module) {
	a.modules = append(a.modules, loadedModule{id: id, instance: instance})
}

// Module returns the loaded instance with the given ID, or nil.
func (a *App) Module(id ModuleID) Module {
	for _, m := range a.modules {
		if m.id == id {
			return m.instance
		}
	}
	return nil
}

// Start starts all loaded modules in load order. If any module fails to
// start, the modules already started are stopped in reverse order and the
// error is returned.
func (a *App) Start() error {
	for _, m := range a.modules {
		s, ok := m.instance.(Starter)
		if !ok {
			a.started = append(a.started, m)
			continue
		}
		if err := s.Start(); err != nil {
			a.logger.Error("module failed to start", "module", string(m.id), "error", err)
			a.stopModules()
			return fmt.Errorf("starting module %s: %w", m.id, err)
		}
		a.started = append(a.started, m)
		a.logger.Info("module started", "module", string(m.id))
	}
	return nil
}

// Stop stops all started modules in reverse order.
func (a *App) Stop() {
	a.stopModules()
}

func (a *App) stopModules() {
	for i := len(a.started) - 1; i >= 0; i-- {
		m := a.started[i]
		s, ok := m.instance.(Stopper)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module failed to stop", "module", string(m.id), "error", err)
		} else {
			a.logger.Info("module stopped", "module", string(m.id))
		}
		cancel()
	}
	a.started = nil
}

// Run starts the app and blocks until SIGINT or SIGTERM, then stops it.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}
	a.logger.Info("chatforge running", "modules", len(a.modules))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	a.logger.Info("shutting down", "signal", sig.String())

	a.Stop()
	return nil
}
