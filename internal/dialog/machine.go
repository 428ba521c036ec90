// Package dialog implements the conversational state machine that walks a
// user through designing, saving, and materializing forum chat templates.
// The machine owns per-user sessions and drafts; long-running work
// (provisioning, icon probing) is returned to the caller as a Command.
package dialog

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/mzhadan/chatforge/internal/channel"
	"github.com/mzhadan/chatforge/internal/icons"
	"github.com/mzhadan/chatforge/internal/store"
	"github.com/mzhadan/chatforge/internal/template"
)

// Input is one user interaction: either message text or a callback token
// from an inline button.
type Input struct {
	Text     string
	Callback string
}

// Reply is what the machine wants sent back to the user.
type Reply struct {
	Text           string
	ReplyKeyboard  [][]string
	InlineKeyboard [][]channel.InlineButton
	RemoveKeyboard bool
}

// Command asks the embedding module to run a long operation after the
// reply has been delivered.
type Command struct {
	Provision    *ProvisionCommand
	GrantAdmin   *GrantCommand
	RefreshIcons bool
	TestIcons    bool
}

// ProvisionCommand requests a provisioning run for a finished template.
type ProvisionCommand struct {
	Template template.Template

	// Persist is set when the run should also save the template
	// (the "save and create" path defers persistence to the run).
	Persist bool

	// PrevName is the stored name when the draft came from a saved
	// template, so deferred persistence replaces it instead of
	// colliding with it.
	PrevName string
}

// GrantCommand requests a deferred admin grant for the requester.
type GrantCommand struct {
	ChatID     int64
	InviteLink string
}

// RunOutcome summarizes a finished provisioning run for FinishRun.
type RunOutcome struct {
	Failed         bool
	ErrorText      string
	ChatID         int64
	ChatTitle      string
	InviteLink     string
	RequesterAdded bool
	TopicsCreated  int
	TopicsWanted   int
	StepErrors     int
}

// structural command tokens, resolved before per-state input handling.
type command int

const (
	cmdNone command = iota
	cmdCancel
	cmdBack
	cmdDone
)

var structuralTokens = map[string]command{
	btnCancel: cmdCancel,
	"/cancel": cmdCancel,
	btnBack:   cmdBack,
	"/back":   cmdBack,
	btnDone:   cmdDone,
}

// Machine runs every user's conversation. Sessions are created lazily and
// destroyed when a flow completes or is cancelled.
type Machine struct {
	store  store.Store
	icons  *icons.Cache
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewMachine creates a Machine over the given store and icon cache.
func NewMachine(st store.Store, ic *icons.Cache, logger *slog.Logger) *Machine {
	return &Machine{
		store:    st,
		icons:    ic,
		logger:   logger,
		sessions: make(map[int64]*session),
	}
}

// State reports a user's current state. Users without a session are Idle.
func (m *Machine) State(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s.state
	}
	return StateIdle
}

// Step applies one input to the user's session and returns the reply plus
// an optional command for the caller to execute. Inputs for one user must
// be applied sequentially.
func (m *Machine) Step(userID int64, in Input) (Reply, *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = &session{state: StateIdle, user: userID}
		m.sessions[userID] = s
	}

	if in.Callback != "" {
		return m.handleCallback(userID, s, in.Callback)
	}

	text := strings.TrimSpace(in.Text)

	if reply, cmd, handled := m.handleCommand(userID, s, text); handled {
		return reply, cmd
	}

	if cmd, ok := structuralTokens[text]; ok {
		return m.applyStructural(userID, s, cmd), nil
	}

	return m.handleInput(userID, s, text)
}

// handleCommand resolves slash commands, which work from any state.
func (m *Machine) handleCommand(userID int64, s *session, text string) (Reply, *Command, bool) {
	switch text {
	case "/start":
		m.reset(s)
		return Reply{
			Text:          "Hi! I build Telegram forum chats from templates.\nDesign a template once, then create fully set up group chats from it.",
			ReplyKeyboard: mainMenuKeyboard(),
		}, nil, true

	case "/create_topic":
		return m.startAuthoring(s), nil, true

	case "/show_topic_icons":
		return Reply{Text: renderIconSet(m.icons.Current())}, nil, true

	case "/refresh_topic_icons":
		return Reply{Text: "Probing topic icons. This takes a while — I'll report when done."},
			&Command{RefreshIcons: true}, true

	case "/test_topic_icons":
		return Reply{Text: "Checking the cached icon set against the platform's sticker list…"},
			&Command{TestIcons: true}, true
	}
	return Reply{}, nil, false
}

// applyStructural handles cancel / back / done according to the current
// state.
func (m *Machine) applyStructural(userID int64, s *session, cmd command) Reply {
	switch cmd {
	case cmdCancel:
		// Confirming a delete is the one place where cancel means
		// "abort this action", not "abandon the whole flow".
		if s.state == StateConfirmingDelete {
			s.state = StateTemplateSelected
			return m.promptFor(s)
		}
		m.reset(s)
		return Reply{Text: "Cancelled.", ReplyKeyboard: mainMenuKeyboard()}

	case cmdBack:
		// Backing out mid-topic drops the unfinished topic; committed
		// topics stay.
		if s.state == StateTopicDescription || s.state == StateTopicIcon {
			s.draft.Template.Topics = s.draft.Template.Topics[:s.draft.TopicIdx]
			if s.draft.adding {
				s.draft.adding = false
				s.state = StateEditingTopics
			} else {
				s.state = StateTopicTitle
			}
			return m.promptFor(s)
		}

		if s.state == StateTopicTitle && s.draft != nil && s.draft.adding {
			s.draft.adding = false
			s.state = StateEditingTopics
			return m.promptFor(s)
		}

		target, ok := backTargets[s.state]
		if !ok {
			return Reply{Text: "Nothing to go back to here."}
		}
		s.state = target
		return m.promptFor(s)

	case cmdDone:
		return m.applyDone(s)
	}
	return Reply{Text: "Nothing to do."}
}

func (m *Machine) applyDone(s *session) Reply {
	switch s.state {
	case StateTopicTitle:
		if s.draft == nil || len(s.draft.Template.Topics) == 0 {
			return Reply{
				Text:          "Add at least one topic before finishing.",
				ReplyKeyboard: topicLoopKeyboard(),
			}
		}
		s.state = StateCompleted
		return m.promptFor(s)

	case StateEditingRoot, StateEditingTopics:
		s.state = StateCompleted
		return m.promptFor(s)
	}
	return Reply{Text: "Nothing to finish here."}
}

// handleCallback processes inline button presses.
func (m *Machine) handleCallback(userID int64, s *session, data string) (Reply, *Command) {
	switch {
	case strings.HasPrefix(data, cbIconPrefix):
		glyph := strings.TrimPrefix(data, cbIconPrefix)
		switch s.state {
		case StateTopicIcon, StateEditingTopicIcon:
			return m.applyIcon(s, glyph), nil
		}
		return Reply{Text: "No topic is waiting for an icon right now."}, nil

	case data == cbGrantAdmin:
		if s.state != StateAwaitingAdmin || s.pending == nil {
			return Reply{Text: "There is no pending admin grant."}, nil
		}
		return Reply{Text: "Checking your membership…"}, &Command{
			GrantAdmin: &GrantCommand{ChatID: s.pending.ChatID, InviteLink: s.pending.InviteLink},
		}

	case data == cbSkipAdmin:
		if s.state == StateAwaitingAdmin {
			m.reset(s)
			return Reply{Text: "All right. You can always ask the chat owner later.", ReplyKeyboard: mainMenuKeyboard()}, nil
		}
		return Reply{Text: "There is no pending admin grant."}, nil
	}

	return Reply{Text: "That button is no longer active."}, nil
}

// handleInput is the per-state domain input dispatch.
func (m *Machine) handleInput(userID int64, s *session, text string) (Reply, *Command) {
	switch s.state {
	case StateIdle:
		return m.handleIdle(s, text), nil
	case StateTemplateName:
		return m.handleTemplateName(s, text), nil
	case StateChatTitle:
		return m.handleChatTitle(s, text), nil
	case StateChatDescription:
		return m.handleChatDescription(s, text), nil
	case StateTopicTitle:
		return m.handleTopicTitle(s, text), nil
	case StateTopicDescription:
		return m.handleTopicDescription(s, text), nil
	case StateTopicIcon:
		return m.applyIcon(s, text), nil
	case StateCompleted:
		return m.handleCompleted(userID, s, text)
	case StateListingTemplates:
		return m.handleListing(userID, s, text), nil
	case StateTemplateSelected:
		return m.handleSelected(userID, s, text)
	case StateConfirmingDelete:
		return m.handleConfirmDelete(userID, s, text), nil
	case StateEditingRoot:
		return m.handleEditingRoot(s, text), nil
	case StateEditingTemplateName:
		return m.handleEditField(s, text, fieldTemplateName), nil
	case StateEditingChatTitle:
		return m.handleEditField(s, text, fieldChatTitle), nil
	case StateEditingChatDescription:
		return m.handleEditField(s, text, fieldChatDescription), nil
	case StateEditingTopics:
		return m.handleEditingTopics(s, text), nil
	case StateRemovingTopic:
		return m.handleRemovingTopic(s, text), nil
	case StateEditingTopicTitle:
		return m.handleEditTopicField(s, text, fieldTopicTitle), nil
	case StateEditingTopicDescription:
		return m.handleEditTopicField(s, text, fieldTopicDescription), nil
	case StateEditingTopicIcon:
		return m.applyIcon(s, text), nil
	case StateAwaitingAdmin:
		return Reply{
			Text:           "Use the buttons: once you have joined the chat, I can make you an admin.",
			InlineKeyboard: adminGrantKeyboard(),
		}, nil
	}
	return Reply{Text: "I did not understand that.", ReplyKeyboard: mainMenuKeyboard()}, nil
}

func (m *Machine) handleIdle(s *session, text string) Reply {
	switch text {
	case btnNewTemplate:
		return m.startAuthoring(s)
	case btnMyTemplates:
		s.state = StateListingTemplates
		return m.promptFor(s)
	}
	return Reply{Text: "Pick an action from the menu, or send /start.", ReplyKeyboard: mainMenuKeyboard()}
}

func (m *Machine) startAuthoring(s *session) Reply {
	s.draft = &Draft{}
	s.state = StateTemplateName
	return Reply{
		Text:           "Let's design a forum chat template.\nFirst, name the template (for your own list):",
		ReplyKeyboard:  cancelKeyboard(),
		RemoveKeyboard: false,
	}
}

func (m *Machine) handleTemplateName(s *session, text string) Reply {
	if err := template.CheckName(text); err != nil {
		return rejection(err, cancelKeyboard())
	}
	s.draft.Template.Name = text

	// Re-prompted after a name conflict: the rest of the draft is
	// already filled in, so go straight back to the preview.
	if s.draft.Template.ChatTitle != "" && len(s.draft.Template.Topics) > 0 {
		s.state = StateCompleted
	} else {
		s.state = StateChatTitle
	}
	return m.promptFor(s)
}

func (m *Machine) handleChatTitle(s *session, text string) Reply {
	if err := template.CheckChatTitle(text); err != nil {
		return rejection(err, backCancelKeyboard())
	}
	s.draft.Template.ChatTitle = text
	s.state = StateChatDescription
	return m.promptFor(s)
}

func (m *Machine) handleChatDescription(s *session, text string) Reply {
	if text != skipToken {
		if err := template.CheckChatDescription(text); err != nil {
			return rejection(err, backCancelKeyboard())
		}
		s.draft.Template.ChatDescription = text
	}
	s.state = StateTopicTitle
	return m.promptFor(s)
}

func (m *Machine) handleTopicTitle(s *session, text string) Reply {
	if len(s.draft.Template.Topics) >= template.MaxTopics {
		return Reply{
			Text:          fmt.Sprintf("A template holds at most %d topics. Press \"%s\" to finish.", template.MaxTopics, btnDone),
			ReplyKeyboard: topicLoopKeyboard(),
		}
	}
	if err := template.CheckTopicTitle(text); err != nil {
		return rejection(err, topicLoopKeyboard())
	}
	s.draft.Template.Topics = append(s.draft.Template.Topics, template.Topic{Title: text})
	s.draft.TopicIdx = len(s.draft.Template.Topics) - 1
	s.state = StateTopicDescription
	return m.promptFor(s)
}

func (m *Machine) handleTopicDescription(s *session, text string) Reply {
	if text != skipToken {
		s.draft.Template.Topics[s.draft.TopicIdx].Description = text
	}
	s.state = StateTopicIcon
	return m.promptFor(s)
}

// applyIcon validates an icon pick against the loaded icon set and
// finishes the current topic. The skip token leaves the topic without an
// icon; in the editing flow "-" removes an existing one.
func (m *Machine) applyIcon(s *session, input string) Reply {
	editing := s.state == StateEditingTopicIcon

	switch input {
	case skipToken:
		return m.finishTopic(s)
	case "-":
		if editing {
			s.draft.Template.Topics[s.draft.TopicIdx].Icon = ""
			return m.finishTopic(s)
		}
	}

	if _, ok := m.icons.Resolve(input); !ok {
		set := m.icons.Current()
		text := fmt.Sprintf("%q is not in the set of icons known to work. Pick one below or send \"%s\" to skip.", input, skipToken)
		if len(set) == 0 {
			text = fmt.Sprintf("No working icons are known yet (run /refresh_topic_icons). Send \"%s\" to continue without one.", skipToken)
		}
		return Reply{
			Text:           text,
			InlineKeyboard: iconKeyboard(set),
			ReplyKeyboard:  backCancelKeyboard(),
		}
	}

	s.draft.Template.Topics[s.draft.TopicIdx].Icon = input
	return m.finishTopic(s)
}

// finishTopic returns to the right place after a topic's icon step: the
// topic list when editing, otherwise the next-topic loop.
func (m *Machine) finishTopic(s *session) Reply {
	if s.state == StateEditingTopicIcon || s.draft.adding {
		s.draft.adding = false
		s.state = StateEditingTopics
		return m.promptFor(s)
	}
	s.state = StateTopicTitle
	return Reply{
		Text: fmt.Sprintf("Topic %d saved. Send the next topic's title, or press \"%s\".",
			len(s.draft.Template.Topics), btnDone),
		ReplyKeyboard: topicLoopKeyboard(),
	}
}

func (m *Machine) handleCompleted(userID int64, s *session, text string) (Reply, *Command) {
	switch text {
	case btnCreateChat:
		return m.startProvision(s, false)

	case btnSaveTemplate:
		reply, saved := m.saveDraft(userID, s)
		if saved {
			m.reset(s)
			return Reply{Text: "Template saved. 💾", ReplyKeyboard: mainMenuKeyboard()}, nil
		}
		return reply, nil

	case btnSaveAndCreate:
		// Persistence happens at the end of the run; only the name
		// conflict is checked here so the user can fix it up front.
		// A draft keeping its stored name replaces itself and cannot
		// conflict.
		if s.draft.PrevName != s.draft.Template.Name {
			if _, err := m.store.Get(userID, s.draft.Template.Name); err == nil {
				s.state = StateTemplateName
				return Reply{
					Text:          fmt.Sprintf("You already have a template named %q. Send a different name:", s.draft.Template.Name),
					ReplyKeyboard: cancelKeyboard(),
				}, nil
			}
		}
		return m.startProvision(s, true)

	case btnEdit:
		s.state = StateEditingRoot
		return m.promptFor(s), nil
	}

	return Reply{
		Text:          "Use the buttons to create, save, or edit the template.",
		ReplyKeyboard: completedKeyboard(),
	}, nil
}

// startProvision validates the draft and hands it to the caller as a
// provisioning command. Invalid drafts reset the session: incomplete data
// is never provisioned or saved.
func (m *Machine) startProvision(s *session, persist bool) (Reply, *Command) {
	tpl := s.draft.Template
	tpl.OwnerID = s.user
	if err := tpl.Validate(); err != nil {
		m.reset(s)
		return Reply{
			Text:          "The template is incomplete: " + err.Error() + "\nStart over, please.",
			ReplyKeyboard: mainMenuKeyboard(),
		}, nil
	}
	return Reply{Text: "Creating the forum chat. I'll post progress here. ⏳", RemoveKeyboard: true},
		&Command{Provision: &ProvisionCommand{Template: tpl, Persist: persist, PrevName: s.draft.PrevName}}
}

// saveDraft validates and upserts the draft. A name conflict re-prompts
// for a different name with the rest of the draft intact.
func (m *Machine) saveDraft(userID int64, s *session) (Reply, bool) {
	tpl := s.draft.Template
	tpl.OwnerID = userID
	if err := tpl.Validate(); err != nil {
		m.reset(s)
		return Reply{
			Text:          "The template is incomplete: " + err.Error() + "\nStart over, please.",
			ReplyKeyboard: mainMenuKeyboard(),
		}, false
	}

	err := m.store.Upsert(userID, tpl, s.draft.PrevName)
	switch {
	case err == nil:
		return Reply{}, true

	case errors.Is(err, store.ErrNameConflict):
		s.state = StateTemplateName
		return Reply{
			Text:          fmt.Sprintf("You already have a template named %q. Send a different name:", tpl.Name),
			ReplyKeyboard: cancelKeyboard(),
		}, false

	case errors.Is(err, store.ErrOwnerQuota):
		return Reply{
			Text:          fmt.Sprintf("You already have %d templates — delete one before saving another.", template.MaxTemplatesPerOwner),
			ReplyKeyboard: completedKeyboard(),
		}, false

	default:
		m.logger.Error("saving template failed", "owner", userID, "error", err)
		return Reply{
			Text:          "Saving failed: " + err.Error(),
			ReplyKeyboard: completedKeyboard(),
		}, false
	}
}

func (m *Machine) handleListing(userID int64, s *session, text string) Reply {
	templates := m.store.GetAll(userID)
	idx, ok := selectByIndexOrName(templates, text)
	if !ok {
		return Reply{
			Text:          fmt.Sprintf("No template matches %q.\n\n%s", text, renderTemplateList(templates)),
			ReplyKeyboard: backCancelKeyboard(),
		}
	}

	tpl := templates[idx]
	s.draft = &Draft{Template: tpl, PrevName: tpl.Name}
	s.state = StateTemplateSelected
	return m.promptFor(s)
}

func (m *Machine) handleSelected(userID int64, s *session, text string) (Reply, *Command) {
	switch text {
	case btnCreateChat:
		// Already persisted; the run only creates the chat.
		return m.startProvision(s, false)
	case btnEdit:
		s.state = StateEditingRoot
		return m.promptFor(s), nil
	case btnDelete:
		s.state = StateConfirmingDelete
		return Reply{
			Text:          fmt.Sprintf("Delete template %q? This cannot be undone.", s.draft.Template.Name),
			ReplyKeyboard: confirmKeyboard(),
		}, nil
	}
	return Reply{
		Text:          "Use the buttons: create a chat from this template, edit it, or delete it.",
		ReplyKeyboard: selectedKeyboard(),
	}, nil
}

func (m *Machine) handleConfirmDelete(userID int64, s *session, text string) Reply {
	if text != btnConfirm {
		return Reply{
			Text:          fmt.Sprintf("Press \"%s\" to delete, or \"%s\" to keep the template.", btnConfirm, btnCancel),
			ReplyKeyboard: confirmKeyboard(),
		}
	}

	name := s.draft.Template.Name
	if !m.store.Delete(userID, name) {
		m.reset(s)
		return Reply{Text: fmt.Sprintf("Template %q was already gone.", name), ReplyKeyboard: mainMenuKeyboard()}
	}
	m.reset(s)
	return Reply{Text: fmt.Sprintf("Template %q deleted.", name), ReplyKeyboard: mainMenuKeyboard()}
}

type editField int

const (
	fieldTemplateName editField = iota
	fieldChatTitle
	fieldChatDescription
	fieldTopicTitle
	fieldTopicDescription
)

func (m *Machine) handleEditingRoot(s *session, text string) Reply {
	switch text {
	case btnEditTplName:
		s.state = StateEditingTemplateName
	case btnEditChatTitle:
		s.state = StateEditingChatTitle
	case btnEditChatDesc:
		s.state = StateEditingChatDescription
	case btnEditTopics:
		s.state = StateEditingTopics
	default:
		return Reply{Text: "Pick what to change.", ReplyKeyboard: editRootKeyboard()}
	}
	return m.promptFor(s)
}

// handleEditField updates one template-level field. The skip token keeps
// the current value.
func (m *Machine) handleEditField(s *session, text string, field editField) Reply {
	if text != skipToken {
		var err error
		switch field {
		case fieldTemplateName:
			if err = template.CheckName(text); err == nil {
				s.draft.Template.Name = text
			}
		case fieldChatTitle:
			if err = template.CheckChatTitle(text); err == nil {
				s.draft.Template.ChatTitle = text
			}
		case fieldChatDescription:
			if err = template.CheckChatDescription(text); err == nil {
				s.draft.Template.ChatDescription = text
			}
		}
		if err != nil {
			return rejection(err, backCancelKeyboard())
		}
	}
	s.state = StateEditingRoot
	return m.promptFor(s)
}

func (m *Machine) handleEditingTopics(s *session, text string) Reply {
	switch text {
	case btnAddTopic:
		if len(s.draft.Template.Topics) >= template.MaxTopics {
			return Reply{
				Text:          fmt.Sprintf("A template holds at most %d topics.", template.MaxTopics),
				ReplyKeyboard: editTopicsKeyboard(),
			}
		}
		s.draft.adding = true
		s.state = StateTopicTitle
		return Reply{Text: "New topic title:", ReplyKeyboard: backCancelKeyboard()}

	case btnRemoveTopic:
		s.state = StateRemovingTopic
		return Reply{
			Text:          renderTopicList(s.draft.Template) + "\n\nWhich topic should I remove?",
			ReplyKeyboard: backCancelKeyboard(),
		}
	}

	idx, ok := selectTopic(s.draft.Template, text)
	if !ok {
		return Reply{
			Text:          fmt.Sprintf("No topic matches %q.\n\n%s", text, renderTopicList(s.draft.Template)),
			ReplyKeyboard: editTopicsKeyboard(),
		}
	}
	s.draft.TopicIdx = idx
	s.state = StateEditingTopicTitle
	return m.promptFor(s)
}

func (m *Machine) handleRemovingTopic(s *session, text string) Reply {
	idx, ok := selectTopic(s.draft.Template, text)
	if !ok {
		return Reply{
			Text:          fmt.Sprintf("No topic matches %q. Send a number or an exact title.", text),
			ReplyKeyboard: backCancelKeyboard(),
		}
	}
	if len(s.draft.Template.Topics) == 1 {
		s.state = StateEditingTopics
		return Reply{
			Text:          "A template needs at least one topic, so the last one cannot be removed.",
			ReplyKeyboard: editTopicsKeyboard(),
		}
	}

	topics := s.draft.Template.Topics
	removed := topics[idx].Title
	s.draft.Template.Topics = append(topics[:idx], topics[idx+1:]...)
	s.state = StateEditingTopics
	return Reply{
		Text:          fmt.Sprintf("Topic %q removed.\n\n%s", removed, renderTopicList(s.draft.Template)),
		ReplyKeyboard: editTopicsKeyboard(),
	}
}

// handleEditTopicField updates one field of the selected topic. The skip
// token keeps the current value.
func (m *Machine) handleEditTopicField(s *session, text string, field editField) Reply {
	topic := &s.draft.Template.Topics[s.draft.TopicIdx]

	if text != skipToken {
		switch field {
		case fieldTopicTitle:
			if err := template.CheckTopicTitle(text); err != nil {
				return rejection(err, backCancelKeyboard())
			}
			topic.Title = text
		case fieldTopicDescription:
			topic.Description = text
		}
	}

	switch field {
	case fieldTopicTitle:
		s.state = StateEditingTopicDescription
	case fieldTopicDescription:
		s.state = StateEditingTopicIcon
	}
	return m.promptFor(s)
}

// FinishRun records the outcome of a provisioning run and produces the
// final reply. When the requester was not auto-added, the session moves
// to the deferred admin grant state.
func (m *Machine) FinishRun(userID int64, out RunOutcome) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = &session{state: StateIdle, user: userID}
		m.sessions[userID] = s
	}

	if out.Failed {
		keyboard := mainMenuKeyboard()
		if s.state == StateCompleted || s.state == StateTemplateSelected {
			keyboard = completedKeyboard()
		}
		return Reply{
			Text:          "Creating the chat failed: " + out.ErrorText + "\nNothing was saved. You can try again.",
			ReplyKeyboard: keyboard,
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Forum chat %q is ready.\n", out.ChatTitle)
	fmt.Fprintf(&b, "Topics created: %d of %d.\n", out.TopicsCreated, out.TopicsWanted)
	if out.StepErrors > 0 {
		fmt.Fprintf(&b, "⚠️ %d step(s) had problems — see the run log.\n", out.StepErrors)
	}
	if out.InviteLink != "" {
		fmt.Fprintf(&b, "Invite link: %s\n", out.InviteLink)
	}

	if !out.RequesterAdded {
		s.state = StateAwaitingAdmin
		s.draft = nil
		s.pending = &pendingRun{ChatID: out.ChatID, InviteLink: out.InviteLink}
		b.WriteString("\nI could not add you to the chat automatically. Join via the invite link, then press the button below.")
		return Reply{
			Text:           strings.TrimRight(b.String(), "\n"),
			InlineKeyboard: adminGrantKeyboard(),
			RemoveKeyboard: true,
		}
	}

	m.reset(s)
	return Reply{Text: strings.TrimRight(b.String(), "\n"), ReplyKeyboard: mainMenuKeyboard()}
}

// GrantResult reports the outcome of a deferred admin grant attempt back
// to the user. A requester who has not joined yet keeps the pending state
// and is re-prompted with the invite link.
func (m *Machine) GrantResult(userID int64, member bool, err error) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.state != StateAwaitingAdmin || s.pending == nil {
		return Reply{Text: "There is no pending admin grant.", ReplyKeyboard: mainMenuKeyboard()}
	}

	if err != nil {
		return Reply{
			Text:           "Could not grant admin rights: " + err.Error() + "\nTry again in a moment.",
			InlineKeyboard: adminGrantKeyboard(),
		}
	}

	if !member {
		text := "You have not joined the chat yet."
		if s.pending.InviteLink != "" {
			text += " Join via " + s.pending.InviteLink + " and press the button again."
		}
		return Reply{Text: text, InlineKeyboard: adminGrantKeyboard()}
	}

	m.reset(s)
	return Reply{Text: "Done — you are now an admin of the new chat. 🎉", ReplyKeyboard: mainMenuKeyboard()}
}

// reset destroys the user's draft and returns the session to Idle.
func (m *Machine) reset(s *session) {
	s.state = StateIdle
	s.draft = nil
	s.pending = nil
}

// promptFor renders the entry prompt for the session's current state,
// used both for forward transitions and for back navigation.
func (m *Machine) promptFor(s *session) Reply {
	switch s.state {
	case StateIdle:
		return Reply{Text: "What next?", ReplyKeyboard: mainMenuKeyboard()}

	case StateTemplateName:
		return Reply{Text: "Name the template:", ReplyKeyboard: cancelKeyboard()}

	case StateChatTitle:
		return Reply{Text: "Now the chat title (what members will see):", ReplyKeyboard: backCancelKeyboard()}

	case StateChatDescription:
		return Reply{
			Text:          fmt.Sprintf("Chat description, or \"%s\" to skip:", skipToken),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateTopicTitle:
		n := len(s.draft.Template.Topics) + 1
		return Reply{
			Text:          fmt.Sprintf("Title for topic %d:", n),
			ReplyKeyboard: topicLoopKeyboard(),
		}

	case StateTopicDescription:
		return Reply{
			Text:          fmt.Sprintf("Description for %q, or \"%s\" to skip:", s.draft.Template.Topics[s.draft.TopicIdx].Title, skipToken),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateTopicIcon:
		return Reply{
			Text:           fmt.Sprintf("Pick an icon for %q, or send \"%s\" to skip:", s.draft.Template.Topics[s.draft.TopicIdx].Title, skipToken),
			InlineKeyboard: iconKeyboard(m.icons.Current()),
			ReplyKeyboard:  backCancelKeyboard(),
		}

	case StateCompleted:
		return Reply{
			Text:          renderPreview(s.draft.Template) + "\n\nWhat should I do with it?",
			ReplyKeyboard: completedKeyboard(),
		}

	case StateListingTemplates:
		return Reply{
			Text:          renderTemplateList(m.store.GetAll(s.user)),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateTemplateSelected:
		return Reply{
			Text:          renderPreview(s.draft.Template),
			ReplyKeyboard: selectedKeyboard(),
		}

	case StateEditingRoot:
		return Reply{Text: "What should I change?", ReplyKeyboard: editRootKeyboard()}

	case StateEditingTemplateName:
		return Reply{
			Text:          fmt.Sprintf("New template name (current: %q), or \"%s\" to keep it:", s.draft.Template.Name, skipToken),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateEditingChatTitle:
		return Reply{
			Text:          fmt.Sprintf("New chat title (current: %q), or \"%s\" to keep it:", s.draft.Template.ChatTitle, skipToken),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateEditingChatDescription:
		return Reply{
			Text:          fmt.Sprintf("New chat description, or \"%s\" to keep the current one:", skipToken),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateEditingTopics:
		return Reply{
			Text:          renderTopicList(s.draft.Template),
			ReplyKeyboard: editTopicsKeyboard(),
		}

	case StateEditingTopicTitle:
		return Reply{
			Text:          fmt.Sprintf("New title for %q, or \"%s\" to keep it:", s.draft.Template.Topics[s.draft.TopicIdx].Title, skipToken),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateEditingTopicDescription:
		return Reply{
			Text:          fmt.Sprintf("New description, or \"%s\" to keep the current one:", skipToken),
			ReplyKeyboard: backCancelKeyboard(),
		}

	case StateEditingTopicIcon:
		return Reply{
			Text:           fmt.Sprintf("New icon, \"%s\" to keep the current one, or \"-\" to remove it:", skipToken),
			InlineKeyboard: iconKeyboard(m.icons.Current()),
			ReplyKeyboard:  backCancelKeyboard(),
		}
	}
	return Reply{Text: "What next?", ReplyKeyboard: mainMenuKeyboard()}
}

// rejection wraps a validation error into a re-prompt that keeps the
// current state.
func rejection(err error, keyboard [][]string) Reply {
	return Reply{Text: err.Error() + "\nTry again:", ReplyKeyboard: keyboard}
}

// selectTopic resolves a 1-based index or exact title to a topic position.
func selectTopic(tpl template.Template, input string) (int, bool) {
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(tpl.Topics) {
			return n - 1, true
		}
		return 0, false
	}
	for i, topic := range tpl.Topics {
		if topic.Title == input {
			return i, true
		}
	}
	return 0, false
}

// selectByIndexOrName resolves a 1-based index or exact name to a
// template position.
func selectByIndexOrName(templates []template.Template, input string) (int, bool) {
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(templates) {
			return n - 1, true
		}
		return 0, false
	}
	for i, tpl := range templates {
		if tpl.Name == input {
			return i, true
		}
	}
	return 0, false
}
