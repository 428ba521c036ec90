package template

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError describes a user-correctable problem with a template
// field. The dialog layer turns these into re-prompts rather than
// failures.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CheckName validates a template name.
func CheckName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxTemplateName {
		return invalid("name", "longer than %d characters", MaxTemplateName)
	}
	return nil
}

// CheckChatTitle validates a chat title.
func CheckChatTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalid("chat title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxChatTitle {
		return invalid("chat title", "longer than %d characters", MaxChatTitle)
	}
	return nil
}

// CheckChatDescription validates a chat description. Empty is allowed.
func CheckChatDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxChatDescription {
		return invalid("chat description", "longer than %d characters", MaxChatDescription)
	}
	return nil
}

// CheckTopicTitle validates a topic title.
func CheckTopicTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalid("topic title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTopicTitle {
		return invalid("topic title", "longer than %d characters", MaxTopicTitle)
	}
	return nil
}

// Validate checks the whole template. A template with zero topics is
// invalid: it must never be persisted or provisioned.
func (t Template) Validate() error {
	if err := CheckName(t.Name); err != nil {
		return err
	}
	if err := CheckChatTitle(t.ChatTitle); err != nil {
		return err
	}
	if err := CheckChatDescription(t.ChatDescription); err != nil {
		return err
	}
	if len(t.Topics) == 0 {
		return invalid("topics", "at least one topic is required")
	}
	if len(t.Topics) > MaxTopics {
		return invalid("topics", "more than %d topics", MaxTopics)
	}
	for i, topic := range t.Topics {
		if err := CheckTopicTitle(topic.Title); err != nil {
			return invalid("topics", "topic %d: %s", i+1, err.(*ValidationError).Reason)
		}
		if utf8.RuneCountInString(topic.Description) > MaxChatDescription {
			return invalid("topics", "topic %d: description longer than %d characters", i+1, MaxChatDescription)
		}
	}
	return nil
}
