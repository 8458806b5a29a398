package trigger

import (
	"strings"
	"unicode"

	"github.com/ashureev/nudge/internal/domain"
)

// normalize lowercases text and strips whitespace, punctuation and '~'.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || r == '~' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isDuplicate reports whether content matches a recently sent message after normalization.
func isDuplicate(content string, recent []domain.SentMessage) bool {
	want := normalize(content)
	for _, m := range recent {
		if normalize(m.Content) == want {
			return true
		}
	}
	return false
}
