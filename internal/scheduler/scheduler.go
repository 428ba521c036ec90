// Package scheduler runs periodic background jobs on cron schedules:
// refreshing the topic icon cache and pruning the provisioning audit
// log. Jobs never overlap themselves; a tick that arrives while the
// previous run is still going is skipped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/history"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// IconRefresher re-probes the topic icon set. The assistant module
// publishes one; a refresh already in flight returns an error which the
// job logs and swallows.
type IconRefresher interface {
	RefreshIcons(ctx context.Context) error
}

// Config is the scheduler's YAML configuration.
type Config struct {
	// IconRefresh re-probes topic icons on a schedule. Empty disables it.
	IconRefresh string `yaml:"icon_refresh"`

	// HistoryPrune removes old audit log rows on a schedule. Empty
	// disables it.
	HistoryPrune string `yaml:"history_prune"`

	// HistoryKeep is how far back the audit log is kept when pruning.
	HistoryKeep time.Duration `yaml:"history_keep"`

	// JobTimeout bounds a single job run.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// RefresherService is the registry name of the IconRefresher.
	RefresherService string `yaml:"refresher_service"`
}

func (c *Config) defaults() {
	if c.HistoryKeep == 0 {
		c.HistoryKeep = 90 * 24 * time.Hour
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.RefresherService == "" {
		c.RefresherService = "assistant"
	}
}

func (c *Config) validate() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for _, spec := range []string{c.IconRefresh, c.HistoryPrune} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
		}
	}
	if c.HistoryKeep < 0 {
		return fmt.Errorf("scheduler: history_keep must be non-negative")
	}
	return nil
}

// Module runs the cron loop.
type Module struct {
	config Config
	appCtx *core.AppContext
	logger *slog.Logger
	cron   *cron.Cron
	jobs   []*job
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "scheduler.cron",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("scheduler: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx
	m.logger = ctx.Logger
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. Collaborating services are resolved
// here so registration order between modules does not matter; a missing
// service just disables its job.
func (m *Module) Start() error {
	m.cron = cron.New()

	if m.config.IconRefresh != "" {
		if svc, err := m.appCtx.Service(m.config.RefresherService); err == nil {
			if refresher, ok := svc.(IconRefresher); ok {
				m.addJob(m.config.IconRefresh, newIconRefreshJob(refresher, m.logger))
			}
		} else {
			m.logger.Warn("icon refresh scheduled but no refresher available",
				"service", m.config.RefresherService)
		}
	}

	if m.config.HistoryPrune != "" {
		if svc, err := m.appCtx.Service(history.ServiceName); err == nil {
			if recorder, ok := svc.(history.Recorder); ok {
				m.addJob(m.config.HistoryPrune, newHistoryPruneJob(recorder, m.config.HistoryKeep, m.logger))
			}
		} else {
			m.logger.Warn("history pruning scheduled but no recorder available")
		}
	}

	m.cron.Start()
	m.logger.Info("scheduler started", "jobs", len(m.jobs))
	return nil
}

func (m *Module) addJob(spec string, j *job) {
	j.timeout = m.config.JobTimeout
	m.jobs = append(m.jobs, j)
	if _, err := m.cron.AddJob(spec, j); err != nil {
		// Validate already parsed the spec; this cannot happen.
		m.logger.Error("adding cron job failed", "job", j.name, "error", err)
	}
}

// Stop implements core.Stopper. Running jobs finish; new ticks stop.
func (m *Module) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	done := m.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
