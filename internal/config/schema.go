// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for chatforge.
package config

import (
	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/core"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir overrides the default state directory (template store,
	// session files, provisioning history database).
	DataDir string `yaml:"data_dir,omitempty"`

	// Log controls the application logger.
	Log LogConfig `yaml:"log,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "channel.telegram").
	Modules map[core.ModuleID]yaml.Node `yaml:"modules"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Default "info".
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Default "text".
	Format string `yaml:"format,omitempty"`
}

// ModuleConfigs returns the per-module config sections in the form the
// module loader consumes.
func (c *Config) ModuleConfigs() map[core.ModuleID]*yaml.Node {
	out := make(map[core.ModuleID]*yaml.Node, len(c.Modules))
	for id := range c.Modules {
		node := c.Modules[id]
		out[id] = &node
	}
	return out
}
