package escalation

import "time"

// TurnSummary is a condensed past turn for prompt building.
type TurnSummary struct {
	Level    Level    `json:"level"`
	Prompt   string   `json:"prompt"`
	Reply    string   `json:"reply,omitempty"`
	Response Response `json:"response"`
}

// PromptContext is everything a dialogue generator needs for the next line.
type PromptContext struct {
	SessionID   string        `json:"session_id"`
	Slot        string        `json:"slot"`
	Level       Level         `json:"level"`
	MaxLevel    Level         `json:"max_level"`
	Spec        LevelSpec     `json:"spec"`
	TurnIndex   int           `json:"turn_index"`
	Escalations int           `json:"escalations"`
	Elapsed     time.Duration `json:"elapsed"`
	History     []TurnSummary `json:"history,omitempty"`
}

// Context builds the PromptContext for s's next turn.
func (m *Machine) Context(s *Session, now time.Time) PromptContext {
	pc := PromptContext{
		SessionID:   s.ID,
		Slot:        s.Slot,
		Level:       s.Level,
		MaxLevel:    m.MaxLevel(),
		Spec:        m.Spec(s.Level),
		TurnIndex:   len(s.Turns),
		Escalations: int(s.Level) - 1,
	}
	if now.After(s.StartedAt) {
		pc.Elapsed = now.Sub(s.StartedAt)
	}

	turns := s.Turns
	if w := m.cfg.HistoryWindow; len(turns) > w {
		turns = turns[len(turns)-w:]
	}
	for _, t := range turns {
		pc.History = append(pc.History, TurnSummary{
			Level:    t.Level,
			Prompt:   t.Prompt,
			Reply:    t.Reply,
			Response: t.Response,
		})
	}
	return pc
}
