// Package history defines the provisioning audit log contract. Each
// completed provisioning run is recorded so operators can see what the
// bot created, for whom, and how it went.
package history

import (
	"context"
	"time"
)

// ServiceName is the service registry key implementations publish under.
const ServiceName = "history"

// Run is one recorded provisioning run.
type Run struct {
	ID           int64         `json:"id"`
	OwnerID      int64         `json:"owner_id"`
	TemplateName string        `json:"template_name"`
	ChatID       int64         `json:"chat_id"`
	ChatTitle    string        `json:"chat_title"`
	InviteLink   string        `json:"invite_link,omitempty"`
	TopicsWanted int           `json:"topics_wanted"`
	TopicsMade   int           `json:"topics_made"`
	ErrorCount   int           `json:"error_count"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// Recorder persists and queries provisioning runs.
type Recorder interface {
	Record(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}
