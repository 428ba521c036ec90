package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mzhadan/chatforge/internal/history"
)

// recorder implements history.Recorder backed by SQLite.
type recorder struct {
	db *sql.DB
}

// Record appends one finished provisioning run.
func (r *recorder) Record(ctx context.Context, run history.Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (owner_id, template_name, chat_id, chat_title, invite_link,
		                  topics_wanted, topics_made, error_count, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.OwnerID, run.TemplateName, run.ChatID, run.ChatTitle, run.InviteLink,
		run.TopicsWanted, run.TopicsMade, run.ErrorCount,
		run.StartedAt.UTC().Format(time.RFC3339Nano), int64(run.Duration),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (r *recorder) Recent(ctx context.Context, limit int) ([]history.Run, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, template_name, chat_id, chat_title, invite_link,
		       topics_wanted, topics_made, error_count, started_at, duration_ns
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []history.Run
	for rows.Next() {
		var (
			run       history.Run
			startedAt string
			duration  int64
		)
		if err := rows.Scan(&run.ID, &run.OwnerID, &run.TemplateName, &run.ChatID,
			&run.ChatTitle, &run.InviteLink, &run.TopicsWanted, &run.TopicsMade,
			&run.ErrorCount, &startedAt, &duration); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse started_at %q: %w", startedAt, err)
		}
		run.Duration = time.Duration(duration)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: recent rows: %w", err)
	}
	return runs, nil
}

// Prune deletes runs that started before the cutoff and returns how many
// were removed.
func (r *recorder) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM runs WHERE started_at < ?",
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune rows affected: %w", err)
	}
	return n, nil
}
