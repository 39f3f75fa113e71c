package domain

import "strings"

// Role identifies the author of a message in a conversation.
type Role string

// Supported message roles
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// IsBlank reports whether the message content is empty or whitespace only.
func (m Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == ""
}

// FilterBlank returns the messages whose content is not blank, preserving order.
// The input slice is not modified.
func FilterBlank(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IsBlank() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// HasConversation reports whether messages contain at least one non-blank
// user or assistant message. System messages alone give a model nothing to answer.
func HasConversation(messages []Message) bool {
	for _, m := range messages {
		if m.Role != RoleSystem && !m.IsBlank() {
			return true
		}
	}
	return false
}

// LastUserContent returns the content of the last user message, if any.
func LastUserContent(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}
