package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mzhadan/chatforge/internal/core"
	"github.com/mzhadan/chatforge/internal/history"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRefresher struct {
	calls atomic.Int64
	block chan struct{}
	err   error
}

func (r *countingRefresher) RefreshIcons(ctx context.Context) error {
	r.calls.Add(1)
	if r.block != nil {
		<-r.block
	}
	return r.err
}

type pruneRecorder struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (r *pruneRecorder) Record(ctx context.Context, run history.Run) error { return nil }

func (r *pruneRecorder) Recent(ctx context.Context, limit int) ([]history.Run, error) {
	return nil, nil
}

func (r *pruneRecorder) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, olderThan)
	return 7, nil
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"valid schedules", Config{IconRefresh: "0 4 * * *", HistoryPrune: "30 3 * * 0"}, false},
		{"garbage schedule", Config{IconRefresh: "whenever"}, true},
		{"six fields", Config{HistoryPrune: "0 0 4 * * *"}, true},
		{"negative keep", Config{HistoryKeep: -time.Hour}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.defaults()
			if err := tt.config.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.HistoryKeep != 90*24*time.Hour {
		t.Errorf("HistoryKeep = %v", c.HistoryKeep)
	}
	if c.RefresherService != "assistant" {
		t.Errorf("RefresherService = %q", c.RefresherService)
	}
	if c.JobTimeout != 30*time.Minute {
		t.Errorf("JobTimeout = %v", c.JobTimeout)
	}
}

func TestJobSkipsOverlappingTick(t *testing.T) {
	r := &countingRefresher{block: make(chan struct{})}
	j := newIconRefreshJob(r, testLogger())

	done := make(chan struct{})
	go func() {
		j.Run()
		close(done)
	}()

	// Wait until the first run holds the lock.
	for r.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// Second tick while the first is still running: skipped.
	j.Run()
	if got := r.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}

	close(r.block)
	<-done

	// After the first finishes, ticks run again.
	r.block = nil
	j.Run()
	if got := r.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestJobSwallowsErrors(t *testing.T) {
	r := &countingRefresher{err: errors.New("refresh already in progress")}
	j := newIconRefreshJob(r, testLogger())

	// Must not panic and must release the lock for the next tick.
	j.Run()
	j.Run()
	if got := r.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestHistoryPruneJobCutoff(t *testing.T) {
	r := &pruneRecorder{}
	keep := 90 * 24 * time.Hour
	j := newHistoryPruneJob(r, keep, testLogger())

	before := time.Now().Add(-keep)
	j.Run()
	after := time.Now().Add(-keep)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cutoffs) != 1 {
		t.Fatalf("prune calls = %d, want 1", len(r.cutoffs))
	}
	if c := r.cutoffs[0]; c.Before(before) || c.After(after) {
		t.Errorf("cutoff = %v, want about %v ago", c, keep)
	}
}

func TestStartResolvesServices(t *testing.T) {
	appCtx := core.NewAppContext(testLogger(), t.TempDir())
	refresher := &countingRefresher{}
	if err := appCtx.RegisterService("assistant", refresher); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := appCtx.RegisterService(history.ServiceName, &pruneRecorder{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	m := &Module{}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte("icon_refresh: \"0 4 * * *\"\nhistory_prune: \"30 3 * * *\"\n"), &node); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := m.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	}()

	if len(m.jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(m.jobs))
	}
}

func TestStartWithoutServices(t *testing.T) {
	m := &Module{}
	m.config = Config{IconRefresh: "0 4 * * *", HistoryPrune: "30 3 * * *"}
	m.config.defaults()
	if err := m.Provision(core.NewAppContext(testLogger(), t.TempDir())); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	// Missing services disable jobs, they do not fail startup.
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	}()

	if len(m.jobs) != 0 {
		t.Errorf("jobs = %d, want 0", len(m.jobs))
	}
}

func TestStopWithoutStart(t *testing.T) {
	m := &Module{}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
