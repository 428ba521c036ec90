// Package file implements the JSON-file template store module. All
// templates live in a single JSON document keyed by owner ID; writes are
// atomic with a backup-and-verify step so a crash or short write never
// loses the previous good version.
package file

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/store"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ store.Store       = (*Store)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// Module wires the file store into the module lifecycle.
type Module struct {
	config Config
	store  *Store
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.file",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("file: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultStoreFile)
	}
	if dir := filepath.Dir(m.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("file: create directory %s: %w", dir, err)
		}
	}

	st, err := NewStore(m.config.Path, os.FileMode(m.config.FileMode), ctx.Logger)
	if err != nil {
		return err
	}
	m.store = st

	if err := ctx.RegisterService(store.ServiceName, st); err != nil {
		return err
	}

	m.logger.Info("template store provisioned",
		"path", m.config.Path,
		"owners", len(st.Owners()),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Store returns the underlying store implementation.
func (m *Module) Store() *Store {
	return m.store
}
