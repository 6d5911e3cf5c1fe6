package conversation

import (
	"fmt"
	"strings"
)

// AssemblePrompt renders the agent's system prompt, the full ordered
// history and the new user message into one linear prompt. The whole
// history is replayed every turn; nothing is truncated or summarized.
func AssemblePrompt(systemPrompt string, history []*Message, content string, attachments []Attachment) string {
	var parts []string

	if systemPrompt != "" {
		parts = append(parts, "SYSTEM: "+systemPrompt)
	}

	for _, m := range history {
		parts = append(parts, strings.ToUpper(string(m.Role))+": "+m.Content)
		for _, a := range m.Attachments {
			parts = append(parts, attachmentLine(a))
		}
	}

	parts = append(parts, "USER: "+content)
	for _, a := range attachments {
		parts = append(parts, attachmentLine(a))
	}

	return strings.Join(parts, "\n")
}

func attachmentLine(a Attachment) string {
	return fmt.Sprintf("[Attachment: %s -> %s]", a.Filename, a.URL)
}
