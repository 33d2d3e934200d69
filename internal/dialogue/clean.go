package dialogue

import (
	"strings"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// Clean normalizes model output into one speakable line: surrounding
// quotes and labels stripped, whitespace collapsed, capped at the level's
// word limit and closed with punctuation matching its urgency.
func Clean(raw string, spec escalation.LevelSpec) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'`“”‘’ ")
	if i := strings.Index(s, ":"); i > 0 && i < 24 && !strings.ContainsAny(s[:i], ".!?") && len(strings.Fields(s[:i])) <= 3 {
		// "Guardian AI: Please leave." -> "Please leave."
		s = strings.TrimSpace(s[i+1:])
		s = strings.Trim(s, "\"'`“”‘’ ")
	}

	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	truncated := false
	if spec.MaxWords > 0 && len(words) > spec.MaxWords {
		words = words[:spec.MaxWords]
		truncated = true
	}
	s = strings.Join(words, " ")
	if truncated {
		s = strings.TrimRight(s, ",;:-–— ")
	}

	switch {
	case strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?"):
	case strings.HasSuffix(s, "."):
		if spec.Urgency.Emphatic() && truncated {
			s = strings.TrimSuffix(s, ".") + "!"
		}
	case spec.Urgency.Emphatic():
		s += "!"
	default:
		s += "."
	}
	return s
}
