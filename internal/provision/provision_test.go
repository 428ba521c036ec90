package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mzhadan/chatforge/internal/history"
	"github.com/mzhadan/chatforge/internal/icons"
	"github.com/mzhadan/chatforge/internal/store"
	"github.com/mzhadan/chatforge/internal/template"
)

type fakeOwner struct {
	chatID    int64
	createErr error
	setupErr  error
	addErr    error
	promoErr  error
	linkErr   error

	mu       sync.Mutex
	added    []int64
	promoted []int64
}

func (f *fakeOwner) CreateForumGroup(ctx context.Context, title, description string) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.chatID, nil
}

func (f *fakeOwner) SetupBot(ctx context.Context, chatID int64, botUsername string) error {
	return f.setupErr
}

func (f *fakeOwner) AddMember(ctx context.Context, chatID int64, userID int64) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.mu.Lock()
	f.added = append(f.added, userID)
	f.mu.Unlock()
	return nil
}

func (f *fakeOwner) PromoteMember(ctx context.Context, chatID int64, userID int64) error {
	if f.promoErr != nil {
		return f.promoErr
	}
	f.mu.Lock()
	f.promoted = append(f.promoted, userID)
	f.mu.Unlock()
	return nil
}

func (f *fakeOwner) ExportInviteLink(ctx context.Context, chatID int64) (string, error) {
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return "https://t.me/+invite", nil
}

// topicCall records one CreateTopic invocation.
type topicCall struct {
	title  string
	iconID string
}

type fakeTopics struct {
	// failTitles maps a topic title to the error every attempt gets.
	failTitles map[string]error

	// rejectIconOnce returns ErrIconRejected for the first iconed
	// attempt of the listed titles.
	rejectIconOnce map[string]bool

	mu       sync.Mutex
	calls    []topicCall
	posted   map[int]string
	nextID   int
	rejected map[string]bool
}

func newFakeTopics() *fakeTopics {
	return &fakeTopics{
		failTitles:     map[string]error{},
		rejectIconOnce: map[string]bool{},
		posted:         map[int]string{},
		rejected:       map[string]bool{},
		nextID:         100,
	}
}

func (f *fakeTopics) CreateTopic(ctx context.Context, chatID int64, title, iconID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, topicCall{title: title, iconID: iconID})
	if err, ok := f.failTitles[title]; ok {
		return 0, err
	}
	if iconID != "" && f.rejectIconOnce[title] && !f.rejected[title] {
		f.rejected[title] = true
		return 0, fmt.Errorf("bad icon %q: %w", iconID, ErrIconRejected)
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeTopics) PostMessage(ctx context.Context, chatID int64, threadID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted[threadID] = text
	return nil
}

// upsertCall records one Upsert invocation, conflicting or not.
type upsertCall struct {
	tpl      template.Template
	prevName string
}

type recordingStore struct {
	mu       sync.Mutex
	upserts  []upsertCall
	conflict bool
	stored   map[string]template.Template
}

func (s *recordingStore) Upsert(ownerID int64, tpl template.Template, prevName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, upsertCall{tpl: tpl, prevName: prevName})
	if s.conflict {
		return store.ErrNameConflict
	}
	return nil
}

func (s *recordingStore) Get(ownerID int64, name string) (template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tpl, ok := s.stored[name]; ok {
		return tpl, nil
	}
	return template.Template{}, store.ErrNotFound
}

func (s *recordingStore) GetAll(ownerID int64) []template.Template { return nil }

func (s *recordingStore) Delete(ownerID int64, name string) bool { return false }

type memRecorder struct {
	mu   sync.Mutex
	runs []history.Run
}

func (r *memRecorder) Record(ctx context.Context, run history.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *memRecorder) Recent(ctx context.Context, limit int) ([]history.Run, error) {
	return nil, nil
}

func (r *memRecorder) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func testCache(t *testing.T, set icons.Set) *icons.Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), icons.DefaultFile)
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cache := icons.NewCache(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := cache.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return cache
}

type harness struct {
	orch    *Orchestrator
	owner   *fakeOwner
	topics  *fakeTopics
	store   *recordingStore
	history *memRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		owner:   &fakeOwner{chatID: -100555},
		topics:  newFakeTopics(),
		store:   &recordingStore{},
		history: &memRecorder{},
	}
	orch, err := New(Config{
		Owner:       h.owner,
		Topics:      h.topics,
		Icons:       testCache(t, icons.Set{"📣": "111", "🎯": "222"}),
		Store:       h.store,
		History:     h.history,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BotUsername: "chatforge_bot",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	orch.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	h.orch = orch
	return h
}

func standupTemplate() template.Template {
	return template.Template{
		OwnerID:   42,
		Name:      "team-standup",
		ChatTitle: "Team Standup",
		Topics: []template.Topic{
			{Title: "General"},
			{Title: "Announcements", Description: "Org-wide news", Icon: "📣"},
			{Title: "Retro", Icon: "🎯"},
		},
	}
}

func TestProvisionHappyPath(t *testing.T) {
	h := newHarness(t)

	var notes []string
	res := h.orch.Provision(context.Background(), standupTemplate(), 42, Options{
		Notify: func(text string) { notes = append(notes, text) },
	})

	if res.Failed() {
		t.Fatalf("run failed: %+v", res.Errors)
	}
	if res.ChatID != -100555 {
		t.Errorf("ChatID = %d, want -100555", res.ChatID)
	}
	if !res.RequesterAdded {
		t.Error("requester should be added")
	}
	if res.InviteLink != "https://t.me/+invite" {
		t.Errorf("InviteLink = %q", res.InviteLink)
	}
	if len(res.TopicsCreated) != 3 {
		t.Fatalf("topics created = %d, want 3", len(res.TopicsCreated))
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %+v, want none", res.Errors)
	}

	// Topic order preserved, icons resolved to custom emoji IDs.
	if got := h.topics.calls[1].iconID; got != "111" {
		t.Errorf("topic 2 icon ID = %q, want 111", got)
	}
	if got := res.TopicsCreated[1].Icon; got != "📣" {
		t.Errorf("topic 2 icon glyph = %q, want 📣", got)
	}

	// Descriptions become opening messages.
	posted := false
	for _, text := range h.topics.posted {
		if text == "Org-wide news" {
			posted = true
		}
	}
	if !posted {
		t.Error("topic description was not posted")
	}

	if h.owner.promoted[0] != 42 {
		t.Errorf("promoted = %v, want [42]", h.owner.promoted)
	}
	if len(notes) == 0 {
		t.Error("no progress notifications delivered")
	}

	// Create without save must not touch the store.
	if len(h.store.upserts) != 0 {
		t.Errorf("store written without Persist: %+v", h.store.upserts)
	}

	if len(h.history.runs) != 1 {
		t.Fatalf("history runs = %d, want 1", len(h.history.runs))
	}
	if run := h.history.runs[0]; run.TopicsMade != 3 || run.OwnerID != 42 {
		t.Errorf("recorded run = %+v", run)
	}
}

func TestProvisionGroupCreateFatal(t *testing.T) {
	h := newHarness(t)
	h.owner.createErr = errors.New("FLOOD_WAIT_300")

	res := h.orch.Provision(context.Background(), standupTemplate(), 42, Options{Persist: true})

	if !res.Failed() {
		t.Fatal("run should have failed")
	}
	if len(h.topics.calls) != 0 {
		t.Errorf("topics attempted after fatal step: %v", h.topics.calls)
	}
	if len(h.store.upserts) != 0 {
		t.Error("store written after fatal step")
	}
	if len(res.Errors) != 1 || res.Errors[0].Step != "create_group" {
		t.Fatalf("errors = %+v, want one create_group error", res.Errors)
	}
	if !errors.Is(res.FatalError(), ErrGroupCreateFailed) {
		t.Errorf("FatalError = %v, want ErrGroupCreateFailed", res.FatalError())
	}

	if len(h.history.runs) != 1 {
		t.Fatalf("failed runs must still be recorded")
	}
	if run := h.history.runs[0]; run.ChatID != 0 || run.ErrorCount != 1 {
		t.Errorf("recorded run = %+v", run)
	}
}

func TestProvisionTopicFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.topics.failTitles["Announcements"] = errors.New("TOPIC_CLOSED")

	res := h.orch.Provision(context.Background(), standupTemplate(), 42, Options{})

	if res.Failed() {
		t.Fatal("topic failures must not fail the run")
	}
	if len(res.TopicsCreated) != 2 {
		t.Fatalf("topics created = %d, want 2", len(res.TopicsCreated))
	}
	if res.TopicsCreated[0].Title != "General" || res.TopicsCreated[1].Title != "Retro" {
		t.Errorf("created = %+v, want General and Retro", res.TopicsCreated)
	}

	var topicErrs int
	for _, e := range res.Errors {
		if e.Step == "create_topic" {
			topicErrs++
			if !strings.Contains(e.Err.Error(), "Announcements") {
				t.Errorf("error %v does not name the topic", e.Err)
			}
		}
	}
	if topicErrs != 1 {
		t.Errorf("topic errors = %d, want 1", topicErrs)
	}

	// All three attempts were spent on the failing topic.
	var attempts int
	for _, call := range h.topics.calls {
		if call.title == "Announcements" {
			attempts++
		}
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestProvisionStaleIconRetriesWithoutIcon(t *testing.T) {
	h := newHarness(t)
	h.topics.rejectIconOnce["Announcements"] = true

	res := h.orch.Provision(context.Background(), standupTemplate(), 42, Options{})

	if len(res.TopicsCreated) != 3 {
		t.Fatalf("topics created = %d, want 3: %+v", len(res.TopicsCreated), res.Errors)
	}
	// The retry dropped the icon and the result reflects that.
	if got := res.TopicsCreated[1].Icon; got != "" {
		t.Errorf("icon = %q, want dropped", got)
	}

	var saw []string
	for _, call := range h.topics.calls {
		if call.title == "Announcements" {
			saw = append(saw, call.iconID)
		}
	}
	if len(saw) != 2 || saw[0] != "111" || saw[1] != "" {
		t.Errorf("attempts = %v, want [111 \"\"]", saw)
	}
}

func TestProvisionUnknownIconSkipped(t *testing.T) {
	h := newHarness(t)
	tpl := standupTemplate()
	tpl.Topics[1].Icon = "🦄"

	res := h.orch.Provision(context.Background(), tpl, 42, Options{})

	if len(res.TopicsCreated) != 3 {
		t.Fatalf("topics created = %d, want 3", len(res.TopicsCreated))
	}
	if got := h.topics.calls[1].iconID; got != "" {
		t.Errorf("icon ID = %q, want unset for unknown glyph", got)
	}
}

func TestProvisionRequesterNotAdded(t *testing.T) {
	h := newHarness(t)
	h.owner.addErr = errors.New("USER_PRIVACY_RESTRICTED")

	res := h.orch.Provision(context.Background(), standupTemplate(), 42, Options{})

	if res.RequesterAdded {
		t.Error("RequesterAdded should be false")
	}
	// The invite link is the fallback path, so it must still be there.
	if res.InviteLink == "" {
		t.Error("invite link missing on deferred-grant path")
	}
	if len(h.owner.promoted) != 0 {
		t.Errorf("promoted = %v, want none without membership", h.owner.promoted)
	}
}

func TestProvisionPersist(t *testing.T) {
	h := newHarness(t)

	h.orch.Provision(context.Background(), standupTemplate(), 42, Options{Persist: true})

	if len(h.store.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(h.store.upserts))
	}
	if got := h.store.upserts[0].tpl.Name; got != "team-standup" {
		t.Errorf("persisted name = %q", got)
	}
	if got := h.store.upserts[0].prevName; got != "" {
		t.Errorf("prevName = %q, want empty for a new draft", got)
	}
}

func TestProvisionPersistReplacesEditedTemplate(t *testing.T) {
	h := newHarness(t)
	tpl := standupTemplate()
	tpl.ChatTitle = "Renamed Standup"

	res := h.orch.Provision(context.Background(), tpl, 42, Options{
		Persist:  true,
		PrevName: "team-standup",
	})

	for _, e := range res.Errors {
		if e.Step == "persist" {
			t.Errorf("persist step error: %v", e.Err)
		}
	}
	if len(h.store.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(h.store.upserts))
	}
	call := h.store.upserts[0]
	if call.prevName != "team-standup" {
		t.Errorf("prevName = %q, want %q", call.prevName, "team-standup")
	}
	if call.tpl.ChatTitle != "Renamed Standup" {
		t.Errorf("persisted ChatTitle = %q, want the edited value", call.tpl.ChatTitle)
	}
}

func TestProvisionPersistConflictBenignWhenStoredMatches(t *testing.T) {
	h := newHarness(t)
	h.store.conflict = true
	h.store.stored = map[string]template.Template{"team-standup": standupTemplate()}

	res := h.orch.Provision(context.Background(), standupTemplate(), 42, Options{Persist: true})

	for _, e := range res.Errors {
		if e.Step == "persist" {
			t.Errorf("conflict surfaced as step error: %v", e.Err)
		}
	}
}

func TestProvisionPersistConflictSurfacesLostSave(t *testing.T) {
	h := newHarness(t)
	h.store.conflict = true
	stale := standupTemplate()
	stale.ChatTitle = "Old Standup"
	h.store.stored = map[string]template.Template{"team-standup": stale}

	res := h.orch.Provision(context.Background(), standupTemplate(), 42, Options{Persist: true})

	var persistErrs int
	for _, e := range res.Errors {
		if e.Step == "persist" {
			persistErrs++
		}
	}
	if persistErrs != 1 {
		t.Fatalf("persist errors = %d, want 1 when the stored content differs", persistErrs)
	}
}

func TestProvisionContextCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.Provision(ctx, standupTemplate(), 42, Options{})

	// The first topic goes through (no inter-topic pause before it);
	// the cancelled sleep stops the rest.
	if len(res.TopicsCreated) > 1 {
		t.Errorf("topics created = %d after cancel", len(res.TopicsCreated))
	}
}

func TestNewRequiresSurfaces(t *testing.T) {
	if _, err := New(Config{Topics: newFakeTopics()}); err == nil {
		t.Error("want error without owner surface")
	}
	if _, err := New(Config{Owner: &fakeOwner{}}); err == nil {
		t.Error("want error without topic API")
	}
}
