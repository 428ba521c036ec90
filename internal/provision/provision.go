// Package provision turns a finished template into a live forum
// supergroup. A run walks a fixed sequence of steps over the owner
// surface (group creation, bot setup, membership) and the bot surface
// (topic creation), accumulating non-fatal step errors instead of
// aborting.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mzhadan/chatforge/internal/history"
	"github.com/mzhadan/chatforge/internal/icons"
	"github.com/mzhadan/chatforge/internal/store"
	"github.com/mzhadan/chatforge/internal/telemetry"
	"github.com/mzhadan/chatforge/internal/template"
)

// ErrGroupCreateFailed marks the one fatal step: without a group there
// is nothing to provision into.
var ErrGroupCreateFailed = errors.New("provision: group creation failed")

// ErrIconRejected is returned (wrapped) by TopicAPI implementations when
// the platform refuses a topic's custom emoji icon. The orchestrator
// retries such a topic once without the icon.
var ErrIconRejected = errors.New("provision: topic icon rejected")

// Owner is the user-account automation surface. Only the owner account
// can create groups and manage members.
type Owner interface {
	// CreateForumGroup creates a forum supergroup and returns its chat ID.
	CreateForumGroup(ctx context.Context, title, description string) (int64, error)

	// SetupBot invites the bot by username and promotes it so it can
	// manage topics.
	SetupBot(ctx context.Context, chatID int64, botUsername string) error

	// AddMember adds a user to the group.
	AddMember(ctx context.Context, chatID int64, userID int64) error

	// PromoteMember grants a member admin rights.
	PromoteMember(ctx context.Context, chatID int64, userID int64) error

	// ExportInviteLink exports a primary invite link for the group.
	ExportInviteLink(ctx context.Context, chatID int64) (string, error)
}

// Granter is the deferred admin grant surface, used after a run where
// the requester could not be added automatically.
type Granter interface {
	// CheckMembership reports whether the user has joined the group.
	CheckMembership(ctx context.Context, chatID int64, userID int64) (bool, error)

	// PromoteMember grants a member admin rights.
	PromoteMember(ctx context.Context, chatID int64, userID int64) error
}

// TopicAPI is the bot-surface slice the orchestrator needs: creating
// topics and posting their opening messages.
type TopicAPI interface {
	CreateTopic(ctx context.Context, chatID int64, title, iconID string) (threadID int, err error)
	PostMessage(ctx context.Context, chatID int64, threadID int, text string) error
}

// CreatedTopic records one successfully created topic.
type CreatedTopic struct {
	Title    string
	ThreadID int
	Icon     string
}

// StepError is one non-fatal failure, tagged with the step it occurred in.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Result describes a finished run. It is immutable after Provision
// returns.
type Result struct {
	ChatID         int64
	ChatTitle      string
	InviteLink     string
	RequesterAdded bool
	TopicsCreated  []CreatedTopic
	Errors         []StepError

	StartedAt time.Time
	Duration  time.Duration
}

// Failed reports whether the run aborted before creating the group.
func (r *Result) Failed() bool {
	return r.ChatID == 0
}

// FatalError returns the group-creation error for a failed run.
func (r *Result) FatalError() error {
	for _, e := range r.Errors {
		if errors.Is(e.Err, ErrGroupCreateFailed) {
			return e.Err
		}
	}
	if r.Failed() && len(r.Errors) > 0 {
		return r.Errors[0].Err
	}
	return nil
}

// Options tunes a single run.
type Options struct {
	// Persist saves the template at the end of a run that reached the
	// topic-creation stage. Used by the "save and create" flow where
	// persistence is deferred until the chat exists.
	Persist bool

	// PrevName is the stored name the persisted template replaces, when
	// the run was started from an edited saved template. Empty for new
	// drafts.
	PrevName string

	// Notify receives human-readable progress lines, fire-and-forget.
	// May be nil.
	Notify func(text string)
}

const (
	topicAttempts  = 3
	topicBackoff   = 2 * time.Second
	interTopicWait = time.Second
)

// Orchestrator runs provisioning. All collaborators except owner and
// topics are optional; nil history, store, and metrics are no-ops.
type Orchestrator struct {
	owner       Owner
	topics      TopicAPI
	icons       *icons.Cache
	store       store.Store
	history     history.Recorder
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	botUsername string

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Config carries the orchestrator's collaborators.
type Config struct {
	Owner       Owner
	Topics      TopicAPI
	Icons       *icons.Cache
	Store       store.Store
	History     history.Recorder
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
	BotUsername string
}

// New creates an Orchestrator. Owner and Topics are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Owner == nil {
		return nil, errors.New("provision: owner surface is required")
	}
	if cfg.Topics == nil {
		return nil, errors.New("provision: topic API is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		owner:       cfg.Owner,
		topics:      cfg.Topics,
		icons:       cfg.Icons,
		store:       cfg.Store,
		history:     cfg.History,
		metrics:     cfg.Metrics,
		logger:      logger,
		botUsername: cfg.BotUsername,
		sleep:       sleepCtx,
	}, nil
}

// Provision materializes tpl into a live forum supergroup for
// requesterID. Group creation failure aborts the run; every later step
// failure is recorded and the run continues. Provision is not
// idempotent: calling it twice creates two groups, so callers must not
// auto-retry a whole run.
func (o *Orchestrator) Provision(ctx context.Context, tpl template.Template, requesterID int64, opts Options) *Result {
	res := &Result{ChatTitle: tpl.ChatTitle, StartedAt: time.Now()}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		o.finish(ctx, tpl, res)
	}()

	tracer := telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "provision.run")
	span.SetAttributes(
		attribute.String("template", tpl.Name),
		attribute.Int64("owner", tpl.OwnerID),
		attribute.Int("topics", len(tpl.Topics)),
	)
	defer span.End()

	notify := opts.Notify
	if notify == nil {
		notify = func(string) {}
	}

	// Step 1: the group itself. The only fatal step.
	notify(fmt.Sprintf("Creating group %q…", tpl.ChatTitle))
	chatID, err := step(ctx, o, "create_group", func(ctx context.Context) (int64, error) {
		return o.owner.CreateForumGroup(ctx, tpl.ChatTitle, tpl.ChatDescription)
	})
	if err != nil {
		res.Errors = append(res.Errors, StepError{Step: "create_group", Err: fmt.Errorf("%w: %v", ErrGroupCreateFailed, err)})
		span.SetStatus(codes.Error, "group creation failed")
		return res
	}
	res.ChatID = chatID

	// Step 2: the bot joins and gets topic-management rights.
	notify("Setting up the bot…")
	if _, err := step(ctx, o, "setup_bot", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.owner.SetupBot(ctx, chatID, o.botUsername)
	}); err != nil {
		res.Errors = append(res.Errors, StepError{Step: "setup_bot", Err: err})
	}

	// Step 3: requester membership, falling back to an invite link.
	if _, err := step(ctx, o, "add_requester", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.owner.AddMember(ctx, chatID, requesterID)
	}); err != nil {
		res.Errors = append(res.Errors, StepError{Step: "add_requester", Err: err})
	} else {
		res.RequesterAdded = true
	}

	// Exporting a link is best-effort either way: added members can
	// still share it.
	if link, err := o.owner.ExportInviteLink(ctx, chatID); err != nil {
		o.logger.Warn("exporting invite link failed", "chat", chatID, "error", err)
		res.Errors = append(res.Errors, StepError{Step: "invite_link", Err: err})
	} else {
		res.InviteLink = link
	}

	// Step 4: requester admin grant, only when membership succeeded.
	if res.RequesterAdded {
		if _, err := step(ctx, o, "promote_requester", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.owner.PromoteMember(ctx, chatID, requesterID)
		}); err != nil {
			res.Errors = append(res.Errors, StepError{Step: "promote_requester", Err: err})
		}
	}

	// Step 5: topics, in template order.
	for i, topic := range tpl.Topics {
		if i > 0 {
			if err := o.sleep(ctx, interTopicWait); err != nil {
				res.Errors = append(res.Errors, StepError{Step: "create_topic", Err: err})
				span.SetStatus(codes.Error, "cancelled")
				return res
			}
		}
		notify(fmt.Sprintf("Creating topic %d/%d: %q…", i+1, len(tpl.Topics), topic.Title))
		o.createTopic(ctx, res, chatID, topic)
	}

	// Step 6: deferred persistence. A name conflict is benign only when
	// the stored template already matches what was provisioned (it got
	// saved identically in the meantime); anything else is a lost save
	// and must surface.
	if opts.Persist && o.store != nil {
		if err := o.store.Upsert(tpl.OwnerID, tpl, opts.PrevName); err != nil && !o.savedIdentically(tpl, err) {
			res.Errors = append(res.Errors, StepError{Step: "persist", Err: err})
		}
	}

	return res
}

// savedIdentically reports whether a failed deferred save was a name
// conflict against a stored template with the same content.
func (o *Orchestrator) savedIdentically(tpl template.Template, err error) bool {
	if !errors.Is(err, store.ErrNameConflict) {
		return false
	}
	stored, gerr := o.store.Get(tpl.OwnerID, tpl.Name)
	return gerr == nil && stored.Equal(tpl)
}

// createTopic creates one topic with bounded retries. A stale icon (the
// capability cache said yes, the platform says no) downgrades to a
// second try without the icon instead of failing the topic.
func (o *Orchestrator) createTopic(ctx context.Context, res *Result, chatID int64, topic template.Topic) {
	iconID := ""
	if topic.Icon != "" && o.icons != nil {
		if id, ok := o.icons.Resolve(topic.Icon); ok {
			iconID = id
		}
	}

	var lastErr error
	for attempt := 0; attempt < topicAttempts; attempt++ {
		if attempt > 0 {
			backoff := topicBackoff * time.Duration(1<<(attempt-1))
			if err := o.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		threadID, err := o.topics.CreateTopic(ctx, chatID, topic.Title, iconID)
		if err == nil {
			res.TopicsCreated = append(res.TopicsCreated, CreatedTopic{
				Title:    topic.Title,
				ThreadID: threadID,
				Icon:     topicIcon(topic, iconID),
			})
			if topic.Description != "" {
				if err := o.topics.PostMessage(ctx, chatID, threadID, topic.Description); err != nil {
					o.logger.Warn("posting topic description failed",
						"chat", chatID, "topic", topic.Title, "error", err)
				}
			}
			return
		}

		lastErr = err
		if errors.Is(err, ErrIconRejected) && iconID != "" {
			o.logger.Warn("topic icon rejected, retrying without it",
				"topic", topic.Title, "icon", topic.Icon)
			iconID = ""
			continue
		}
		if ctx.Err() != nil {
			break
		}
	}

	res.Errors = append(res.Errors, StepError{Step: "create_topic", Err: fmt.Errorf("topic %q: %w", topic.Title, lastErr)})
	o.metrics.RecordStepError("create_topic")
}

func topicIcon(topic template.Topic, iconID string) string {
	if iconID == "" {
		return ""
	}
	return topic.Icon
}

// step runs one owner-surface step inside a span and returns its value.
func step[T any](ctx context.Context, o *Orchestrator, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "provision."+name)
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("provisioning step failed", "step", name, "error", err)
		o.metrics.RecordStepError(name)
	}
	return v, err
}

// finish records the run in the audit log and the metrics.
func (o *Orchestrator) finish(ctx context.Context, tpl template.Template, res *Result) {
	result := "ok"
	if res.Failed() {
		result = "failed"
	}
	o.metrics.RecordRun(result, res.Duration.Seconds())
	o.metrics.RecordTopics(len(res.TopicsCreated))

	o.logger.Info("provisioning run finished",
		"template", tpl.Name,
		"owner", tpl.OwnerID,
		"chat", res.ChatID,
		"topics", len(res.TopicsCreated),
		"errors", len(res.Errors),
		"duration", res.Duration)

	if o.history == nil {
		return
	}
	run := history.Run{
		OwnerID:      tpl.OwnerID,
		TemplateName: tpl.Name,
		ChatID:       res.ChatID,
		ChatTitle:    res.ChatTitle,
		InviteLink:   res.InviteLink,
		TopicsWanted: len(tpl.Topics),
		TopicsMade:   len(res.TopicsCreated),
		ErrorCount:   len(res.Errors),
		StartedAt:    res.StartedAt,
		Duration:     res.Duration,
	}
	if err := o.history.Record(ctx, run); err != nil {
		o.logger.Warn("recording run failed", "template", tpl.Name, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
