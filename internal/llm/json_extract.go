package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var codeBlockPattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n(.+?)\\n```")

// GateVerdict is the structured payload returned for the gate node.
type GateVerdict struct {
	Content   string   `json:"content"`
	RiskLevel string   `json:"risk_level"`
	Alerts    []string `json:"alerts"`
}

// ParseGateVerdict extracts the gate payload from generated text. The JSON
// may be fenced in a markdown code block or embedded in prose.
func ParseGateVerdict(text string) (GateVerdict, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return GateVerdict{}, err
	}
	var v GateVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return GateVerdict{}, fmt.Errorf("decode gate verdict: %w", err)
	}
	v.RiskLevel = strings.ToLower(strings.TrimSpace(v.RiskLevel))
	if v.Alerts == nil {
		v.Alerts = []string{}
	}
	v.Content = Sanitize(v.Content)
	return v, nil
}

// ExtractJSON returns the first JSON object found in a response, preferring
// fenced code blocks tagged json or untagged.
func ExtractJSON(response string) (string, error) {
	for _, m := range codeBlockPattern.FindAllStringSubmatch(response, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" {
			continue
		}
		content := strings.TrimSpace(m[2])
		if strings.HasPrefix(content, "{") && json.Valid([]byte(content)) {
			return content, nil
		}
	}

	for start := strings.Index(response, "{"); start >= 0; {
		if obj := matchBraces(response[start:]); obj != "" && json.Valid([]byte(obj)) {
			return obj, nil
		}
		next := strings.Index(response[start+1:], "{")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", errors.New("no JSON object found in response")
}

// matchBraces returns the prefix of s up to the brace closing s[0], honouring
// string literals and escapes.
func matchBraces(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
