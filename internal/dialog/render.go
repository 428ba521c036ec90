package dialog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mzhadan/chatforge/internal/channel"
	"github.com/mzhadan/chatforge/internal/icons"
	"github.com/mzhadan/chatforge/internal/template"
)

// Button labels. Reply keyboards echo these back as plain text, so the
// same strings double as input tokens.
const (
	btnNewTemplate   = "⚡ New forum chat / template"
	btnMyTemplates   = "📁 My templates"
	btnCreateChat    = "⚡ Create chat"
	btnSaveTemplate  = "💾 Save template"
	btnSaveAndCreate = "🚀 Save and create"
	btnEdit          = "✏️ Edit"
	btnCancel        = "❌ Cancel"
	btnBack          = "⬅️ Back"
	btnDone          = "✅ Done"
	btnConfirm       = "✅ Confirm"
	btnDelete        = "🗑 Delete"
	btnEditTplName   = "✏️ Template name"
	btnEditChatTitle = "✏️ Chat title"
	btnEditChatDesc  = "📝 Chat description"
	btnEditTopics    = "📑 Topics"
	btnAddTopic      = "➕ Add topic"
	btnRemoveTopic   = "🗑 Remove topic"
	btnMakeAdmin     = "I've joined — make me admin"
	btnSkipAdmin     = "Skip"
)

// skipToken skips an optional field (description, icon).
const skipToken = "."

// Callback data for inline buttons.
const (
	cbIconPrefix = "icon:"
	cbGrantAdmin = "admin:grant"
	cbSkipAdmin  = "admin:skip"
)

// iconsPerRow is the inline keyboard width for the icon picker.
const iconsPerRow = 6

func mainMenuKeyboard() [][]string {
	return [][]string{
		{btnNewTemplate},
		{btnMyTemplates},
	}
}

func cancelKeyboard() [][]string {
	return [][]string{{btnCancel}}
}

func backCancelKeyboard() [][]string {
	return [][]string{{btnBack, btnCancel}}
}

func topicLoopKeyboard() [][]string {
	return [][]string{{btnDone}, {btnBack, btnCancel}}
}

func completedKeyboard() [][]string {
	return [][]string{
		{btnCreateChat},
		{btnSaveTemplate, btnSaveAndCreate},
		{btnEdit, btnCancel},
	}
}

func selectedKeyboard() [][]string {
	return [][]string{
		{btnCreateChat},
		{btnEdit, btnDelete},
		{btnBack},
	}
}

func confirmKeyboard() [][]string {
	return [][]string{{btnConfirm, btnCancel}}
}

func editRootKeyboard() [][]string {
	return [][]string{
		{btnEditTplName},
		{btnEditChatTitle},
		{btnEditChatDesc},
		{btnEditTopics},
		{btnDone, btnCancel},
	}
}

func editTopicsKeyboard() [][]string {
	return [][]string{
		{btnAddTopic, btnRemoveTopic},
		{btnBack, btnCancel},
	}
}

func adminGrantKeyboard() [][]channel.InlineButton {
	return [][]channel.InlineButton{{
		{Text: btnMakeAdmin, Data: cbGrantAdmin},
		{Text: btnSkipAdmin, Data: cbSkipAdmin},
	}}
}

// iconKeyboard renders the loaded icon set as an inline picker, glyphs
// sorted for a stable layout.
func iconKeyboard(set icons.Set) [][]channel.InlineButton {
	glyphs := make([]string, 0, len(set))
	for g := range set {
		glyphs = append(glyphs, g)
	}
	sort.Strings(glyphs)

	var rows [][]channel.InlineButton
	var row []channel.InlineButton
	for _, g := range glyphs {
		row = append(row, channel.InlineButton{Text: g, Data: cbIconPrefix + g})
		if len(row) == iconsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// renderPreview formats a template the way it will look once created.
func renderPreview(tpl template.Template) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\n\n", tpl.Name)
	fmt.Fprintf(&b, "Chat: %s\n", tpl.ChatTitle)
	if tpl.ChatDescription != "" {
		fmt.Fprintf(&b, "Description: %s\n", tpl.ChatDescription)
	}
	fmt.Fprintf(&b, "\nTopics (%d):\n", len(tpl.Topics))
	for i, topic := range tpl.Topics {
		fmt.Fprintf(&b, "%d. ", i+1)
		if topic.Icon != "" {
			b.WriteString(topic.Icon + " ")
		}
		b.WriteString(topic.Title)
		if topic.Description != "" {
			b.WriteString(" — " + topic.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderTopicList formats the numbered topic list for positional selection.
func renderTopicList(tpl template.Template) string {
	var b strings.Builder
	b.WriteString("Topics:\n")
	for i, topic := range tpl.Topics {
		fmt.Fprintf(&b, "%d. ", i+1)
		if topic.Icon != "" {
			b.WriteString(topic.Icon + " ")
		}
		b.WriteString(topic.Title)
		b.WriteByte('\n')
	}
	b.WriteString("\nSend a number or an exact title to edit a topic.")
	return b.String()
}

// renderTemplateList formats an owner's saved templates.
func renderTemplateList(templates []template.Template) string {
	if len(templates) == 0 {
		return "You have no saved templates yet. Use \"" + btnNewTemplate + "\" to design one."
	}
	var b strings.Builder
	b.WriteString("Your templates:\n")
	for i, tpl := range templates {
		fmt.Fprintf(&b, "%d. %s (%s, %d topics)\n", i+1, tpl.Name, tpl.ChatTitle, len(tpl.Topics))
	}
	b.WriteString("\nSend a number or a name to open one.")
	return b.String()
}

// renderIconSet formats the known-good icon glyphs for /show_topic_icons.
func renderIconSet(set icons.Set) string {
	if len(set) == 0 {
		return "No topic icons are known to work yet. Run /refresh_topic_icons to probe them."
	}
	glyphs := make([]string, 0, len(set))
	for g := range set {
		glyphs = append(glyphs, g)
	}
	sort.Strings(glyphs)
	return fmt.Sprintf("Known working topic icons (%d):\n%s", len(glyphs), strings.Join(glyphs, " "))
}
