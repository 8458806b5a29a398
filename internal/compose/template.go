package compose

import (
	"strings"

	"github.com/ashureev/nudge/internal/domain"
)

// RenderQuestion fills {user_name} and {user_id}. Other placeholders are left as-is.
func RenderQuestion(template string, state *domain.ConversationState) string {
	r := strings.NewReplacer(
		"{user_name}", state.DisplayName(),
		"{user_id}", state.UserID,
	)
	return r.Replace(template)
}

// FormatHistory renders history as "name: content" lines.
func FormatHistory(history []domain.HistoryMessage) string {
	var b strings.Builder
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(content)
	}
	return b.String()
}
