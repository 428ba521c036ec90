package core

import (
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

// serviceRegistry is shared between an AppContext and all of its
// module-scoped copies.
type serviceRegistry struct {
	mu       sync.RWMutex
	services map[string]any
}

// AppContext carries shared application state into modules during
// provisioning. Modules receive it in Provision() and may keep a reference.
type AppContext struct {
	// Logger is the module-scoped logger. Inside Provision() it already
	// carries the module's ID attribute.
	Logger *slog.Logger

	// DataDir is the directory for module-owned persistent state
	// (template stores, session files, sqlite databases).
	DataDir string

	parentLogger  *slog.Logger
	moduleConfigs map[ModuleID]*yaml.Node
	registry      *serviceRegistry
}

// NewAppContext creates an AppContext with the given base logger and data
// directory.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:       logger,
		DataDir:      dataDir,
		parentLogger: logger,
		registry:     &serviceRegistry{services: map[string]any{}},
	}
}

// WithModuleConfigs attaches raw per-module YAML config sections so
// LoadModule can configure instances on demand.
func (ctx *AppContext) WithModuleConfigs(configs map[ModuleID]*yaml.Node) *AppContext {
	ctx.moduleConfigs = configs
	return ctx
}

// ForModule returns a copy of the context whose Logger is scoped to the
// given module ID. The service registry is shared with the parent.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	return &AppContext{
		Logger:        ctx.parentLogger.With("module", string(id)),
		DataDir:       ctx.DataDir,
		parentLogger:  ctx.parentLogger,
		moduleConfigs: ctx.moduleConfigs,
		registry:      ctx.registry,
	}
}

// LoadModule instantiates, configures, and provisions a module by ID.
// Used by modules that host other modules (for example a channel module
// loading its transport).
func (ctx *AppContext) LoadModule(id ModuleID) (Module, error) {
	info, err := GetModule(id)
	if err != nil {
		return nil, err
	}
	instance := info.New()

	if c, ok := instance.(Configurable); ok {
		if node := ctx.moduleConfigs[id]; node != nil {
			if err := c.Configure(node); err != nil {
				return nil, fmt.Errorf("configuring module %s: %w", id, err)
			}
		}
	}
	if p, ok := instance.(Provisioner); ok {
		if err := p.Provision(ctx.ForModule(id)); err != nil {
			return nil, fmt.Errorf("provisioning module %s: %w", id, err)
		}
	}
	if v, ok := instance.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating module %s: %w", id, err)
		}
	}
	return instance, nil
}

// RegisterService publishes a value under a name so other modules can look
// it up during their own provisioning. Names are flat strings, by
// convention the providing module's ID ("store.file", "channel.telegram").
func (ctx *AppContext) RegisterService(name string, svc any) error {
	if ctx.registry == nil {
		return fmt.Errorf("service registry not initialized")
	}
	ctx.registry.mu.Lock()
	defer ctx.registry.mu.Unlock()
	if _, ok := ctx.registry.services[name]; ok {
		return fmt.Errorf("service already registered: %s", name)
	}
	ctx.registry.services[name] = svc
	return nil
}

// Service looks up a value published with RegisterService. Returns an
// error if no such service exists; callers decide whether that is fatal.
func (ctx *AppContext) Service(name string) (any, error) {
	if ctx.registry == nil {
		return nil, fmt.Errorf("service registry not initialized")
	}
	ctx.registry.mu.RLock()
	defer ctx.registry.mu.RUnlock()
	svc, ok := ctx.registry.services[name]
	if !ok {
		return nil, fmt.Errorf("service not registered: %s", name)
	}
	return svc, nil
}
