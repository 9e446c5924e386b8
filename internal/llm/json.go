package llm

import "strings"

// ExtractJSON returns the outermost JSON object embedded in a model
// response, tolerating markdown fences and surrounding prose. It returns ""
// when no object is present.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
