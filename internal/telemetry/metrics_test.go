package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordUpdate()
	m.RecordRun("ok", 1.5)
	m.RecordTopics(3)
	m.RecordStepError("create_group")
}

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordUpdate()
	m.RecordUpdate()
	m.RecordRun("ok", 2)
	m.RecordRun("failed", 30)
	m.RecordTopics(5)
	m.RecordStepError("add_requester")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	got := make(map[string]bool, len(families))
	for _, fam := range families {
		got[fam.GetName()] = true
	}
	for _, name := range []string{
		"chatforge_updates_total",
		"chatforge_provision_runs_total",
		"chatforge_topics_created_total",
		"chatforge_step_errors_total",
		"chatforge_provision_duration_seconds",
	} {
		if !got[name] {
			t.Errorf("metric family %q not gathered", name)
		}
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("second NewMetrics on the same registry did not panic")
		}
		if !strings.Contains(strings.ToLower(fmtRecover(r)), "duplicate") {
			t.Errorf("panic = %v, want duplicate-registration error", r)
		}
	}()
	NewMetrics(reg)
}

func fmtRecover(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return ""
}
