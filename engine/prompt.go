package engine

import "strings"

// ChatMessage is one turn of persisted conversation history
type ChatMessage struct {
	Role    string
	Content string
}

// FormatPrompt renders conversation history into the plain role-tagged
// format the models are prompted with, ending with an assistant cue.
func FormatPrompt(messages []ChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("assistant: ")
	return sb.String()
}

// MergeConsecutiveRoles collapses adjacent messages with the same role
// into one, joining their contents with newlines. Some instruction-tuned
// models reject histories that do not strictly alternate user/assistant.
func MergeConsecutiveRoles(messages []ChatMessage) []ChatMessage {
	if len(messages) == 0 {
		return messages
	}

	merged := make([]ChatMessage, 0, len(messages))
	current := messages[0]

	for _, m := range messages[1:] {
		if m.Role == current.Role {
			current.Content = current.Content + "\n" + m.Content
			continue
		}
		merged = append(merged, current)
		current = m
	}
	merged = append(merged, current)

	return merged
}
