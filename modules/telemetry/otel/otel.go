// Package otel implements the telemetry module: a Prometheus registry
// with the application's collectors, and optional OTLP trace export.
// It loads first so every other module can pick up the metrics service.
package otel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/telemetry"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the telemetry module configuration.
type Config struct {
	// OTLPEndpoint is the "host:port" of an OTLP/HTTP trace collector.
	// Empty disables trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"service_name"`

	// GoMetrics adds the Go runtime collectors to the registry.
	GoMetrics bool `yaml:"go_metrics"`
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = "chatforge"
	}
}

// Module wires metrics and tracing into the module lifecycle.
type Module struct {
	config   Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "telemetry.otel",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("telemetry: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	m.registry = prometheus.NewRegistry()
	if m.config.GoMetrics {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.metrics = telemetry.NewMetrics(m.registry)

	if err := ctx.RegisterService(telemetry.RegistryService, m.registry); err != nil {
		return err
	}
	return ctx.RegisterService(telemetry.MetricsService, m.metrics)
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if m.config.OTLPEndpoint == "" {
		return nil
	}
	shutdown, err := telemetry.InitTracing(context.Background(), m.config.OTLPEndpoint, m.config.ServiceName)
	if err != nil {
		return err
	}
	m.shutdown = shutdown
	m.logger.Info("trace export enabled", "endpoint", m.config.OTLPEndpoint)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.shutdown == nil {
		return nil
	}
	return m.shutdown(ctx)
}

// Metrics returns the application metrics recorder.
func (m *Module) Metrics() *telemetry.Metrics {
	return m.metrics
}
