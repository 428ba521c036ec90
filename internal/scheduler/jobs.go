package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mzhadan/chatforge/internal/history"
)

// job wraps one periodic task with overlap protection and a timeout.
// Implements cron.Job.
type job struct {
	name    string
	run     func(ctx context.Context) error
	logger  *slog.Logger
	timeout time.Duration

	mu sync.Mutex
}

// Run implements cron.Job. A tick arriving while the previous run is
// still in progress is skipped, not queued.
func (j *job) Run() {
	if !j.mu.TryLock() {
		j.logger.Warn("job still running, skipping tick", "job", j.name)
		return
	}
	defer j.mu.Unlock()

	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.run(ctx); err != nil {
		j.logger.Error("job failed", "job", j.name, "error", err, "elapsed", time.Since(start))
		return
	}
	j.logger.Info("job finished", "job", j.name, "elapsed", time.Since(start))
}

func newIconRefreshJob(refresher IconRefresher, logger *slog.Logger) *job {
	return &job{
		name:   "icon_refresh",
		logger: logger,
		run:    refresher.RefreshIcons,
	}
}

func newHistoryPruneJob(recorder history.Recorder, keep time.Duration, logger *slog.Logger) *job {
	return &job{
		name:   "history_prune",
		logger: logger,
		run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-keep)
			n, err := recorder.Prune(ctx, cutoff)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("audit log pruned", "removed", n, "cutoff", cutoff)
			}
			return nil
		},
	}
}
