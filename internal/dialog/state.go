package dialog

import "github.com/mzhadan/chatforge/internal/template"

// State identifies where a user's conversation currently is. Authoring
// states collect template fields in order; management states navigate
// saved templates.
type State int

const (
	StateIdle State = iota

	// Authoring flow.
	StateTemplateName
	StateChatTitle
	StateChatDescription
	StateTopicTitle
	StateTopicDescription
	StateTopicIcon
	StateCompleted

	// Management flow.
	StateListingTemplates
	StateTemplateSelected
	StateConfirmingDelete
	StateEditingRoot
	StateEditingTemplateName
	StateEditingChatTitle
	StateEditingChatDescription
	StateEditingTopics
	StateRemovingTopic
	StateEditingTopicTitle
	StateEditingTopicDescription
	StateEditingTopicIcon

	// Post-provisioning deferred admin grant.
	StateAwaitingAdmin
)

var stateNames = map[State]string{
	StateIdle:                    "idle",
	StateTemplateName:            "template_name",
	StateChatTitle:               "chat_title",
	StateChatDescription:         "chat_description",
	StateTopicTitle:              "topic_title",
	StateTopicDescription:        "topic_description",
	StateTopicIcon:               "topic_icon",
	StateCompleted:               "completed",
	StateListingTemplates:        "listing_templates",
	StateTemplateSelected:        "template_selected",
	StateConfirmingDelete:        "confirming_delete",
	StateEditingRoot:             "editing_root",
	StateEditingTemplateName:     "editing_template_name",
	StateEditingChatTitle:        "editing_chat_title",
	StateEditingChatDescription:  "editing_chat_description",
	StateEditingTopics:           "editing_topics",
	StateRemovingTopic:           "removing_topic",
	StateEditingTopicTitle:       "editing_topic_title",
	StateEditingTopicDescription: "editing_topic_description",
	StateEditingTopicIcon:        "editing_topic_icon",
	StateAwaitingAdmin:           "awaiting_admin",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Draft is the conversation-scoped template builder. Owned by exactly one
// session; destroyed on completion or cancel.
type Draft struct {
	Template template.Template

	// PrevName is the stored name when editing a saved template, so that
	// saving renames in place instead of colliding with itself.
	PrevName string

	// TopicIdx is the topic currently being filled in or edited.
	TopicIdx int

	// adding marks a topic append started from the editing flow, so the
	// icon step returns to the topic list instead of looping.
	adding bool
}

// pendingRun carries the deferred admin grant context after a
// provisioning run where the requester was not auto-added.
type pendingRun struct {
	ChatID     int64
	InviteLink string
}

// session is one user's conversation. The machine's mutex serializes
// all steps across sessions, store writes included; step work is cheap
// enough that per-session locking has not been worth the bookkeeping.
type session struct {
	user    int64
	state   State
	draft   *Draft
	pending *pendingRun
}

// backTargets maps each state to where a back command lands: the nearest
// enclosing menu, committed work kept.
var backTargets = map[State]State{
	StateChatTitle:               StateTemplateName,
	StateChatDescription:         StateChatTitle,
	StateTopicTitle:              StateChatDescription,
	StateListingTemplates:        StateIdle,
	StateTemplateSelected:        StateListingTemplates,
	StateConfirmingDelete:        StateTemplateSelected,
	StateEditingRoot:             StateCompleted,
	StateEditingTemplateName:     StateEditingRoot,
	StateEditingChatTitle:        StateEditingRoot,
	StateEditingChatDescription:  StateEditingRoot,
	StateEditingTopics:           StateEditingRoot,
	StateRemovingTopic:           StateEditingTopics,
	StateEditingTopicTitle:       StateEditingTopics,
	StateEditingTopicDescription: StateEditingTopics,
	StateEditingTopicIcon:        StateEditingTopics,
}
