package dialogue

import (
	"context"

	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/redact"
)

// Scrubbed replaces personal data in past replies with tokens before
// calling the wrapped generator, and restores them in the spoken line.
type Scrubbed struct {
	next     Generator
	redactor *redact.Redactor
}

// NewScrubbed wraps next.
func NewScrubbed(next Generator, r *redact.Redactor) *Scrubbed {
	return &Scrubbed{next: next, redactor: r}
}

func (s *Scrubbed) Generate(ctx context.Context, pc escalation.PromptContext) (string, error) {
	tm := redact.NewTokenMap()
	if len(pc.History) > 0 {
		history := make([]escalation.TurnSummary, len(pc.History))
		copy(history, pc.History)
		for i := range history {
			history[i].Reply = s.redactor.Redact(history[i].Reply, tm)
		}
		pc.History = history
	}
	line, err := s.next.Generate(ctx, pc)
	if err != nil || tm.Len() == 0 {
		return line, err
	}
	return redact.Detoken(line, tm), nil
}
