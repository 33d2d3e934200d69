package escalation

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive                   Status = "active"
	StatusResolvedCooperative      Status = "resolved_cooperative"
	StatusResolvedTimeoutEscalated Status = "resolved_timeout_escalated"
	StatusTerminated               Status = "terminated"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool { return s != StatusActive }

// Turn is one prompt/reply exchange within a session.
type Turn struct {
	Index      int           `json:"index"`
	Level      Level         `json:"level"`
	Prompt     string        `json:"prompt"`
	Generated  bool          `json:"generated"` // false when the fallback phrase was used
	Spoken     bool          `json:"spoken"`
	Reply      string        `json:"reply,omitempty"`
	Response   Response      `json:"response"`
	Effective  Response      `json:"effective"` // after the neutral retry cap
	LevelAfter Level         `json:"level_after"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Session is one confrontation with an actor in a slot.
type Session struct {
	ID        string    `json:"id"`
	Slot      string    `json:"slot"`
	Identity  string    `json:"identity,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Level     Level     `json:"level"`
	MaxLevel  Level     `json:"max_level"`
	Status    Status    `json:"status"`
	EndReason string    `json:"end_reason,omitempty"`
	Turns     []Turn    `json:"turns"`

	// NeutralRetries counts consecutive neutral replies at the current level.
	NeutralRetries int `json:"neutral_retries"`
}

// AppendTurn records a completed turn.
func (s *Session) AppendTurn(t Turn) {
	t.Index = len(s.Turns)
	s.Turns = append(s.Turns, t)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Turns != nil {
		c.Turns = make([]Turn, len(s.Turns))
		copy(c.Turns, s.Turns)
	}
	return &c
}

func newSessionID() string {
	return uuid.NewString()
}
