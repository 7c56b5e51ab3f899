package llm

import (
	"encoding/json"
	"strings"
)

// Sanitize normalizes generated markdown: literal "\n" sequences become real
// newlines and an accidental {"content": "..."} wrapper is removed.
func Sanitize(content string) string {
	if looksLikeJSON(content) && strings.Contains(content, `"content":`) {
		var wrapper struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &wrapper); err == nil && wrapper.Content != nil {
			content = *wrapper.Content
		}
	}
	if strings.Contains(content, `\n`) {
		content = strings.ReplaceAll(content, `\n`, "\n")
	}
	return content
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "{")
}
