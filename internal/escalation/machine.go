package escalation

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionClosed rejects transitions on a session that already ended.
	ErrSessionClosed = errors.New("session is not active")
	// ErrMaxLevel rejects an operator escalation at the terminal level.
	ErrMaxLevel = errors.New("session is already at the maximum level")
)

// Config tunes the machine.
type Config struct {
	Levels []LevelSpec `yaml:"levels"`
	// NeutralRetryCap is how many neutral replies a level tolerates; the
	// next one is treated as uncooperative.
	NeutralRetryCap int `yaml:"neutral_retry_cap"`
	// HistoryWindow is how many past turns a PromptContext carries.
	HistoryWindow int `yaml:"history_window"`
}

// DefaultConfig returns the four-level ladder with a retry cap of 2.
func DefaultConfig() Config {
	return Config{
		Levels:          DefaultLevels(),
		NeutralRetryCap: 2,
		HistoryWindow:   3,
	}
}

// Outcome describes one transition.
type Outcome struct {
	From      Level    `json:"from"`
	To        Level    `json:"to"`
	Response  Response `json:"response"`
	Effective Response `json:"effective"`
	Forced    bool     `json:"forced"` // neutral cap converted the reply
	Status    Status   `json:"status"`
	// Manual is set for operator escalations, which carry no reply.
	Manual bool   `json:"manual,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Escalated reports whether the level rose.
func (o Outcome) Escalated() bool { return o.To > o.From }

// Machine is the escalation state machine. It is safe for concurrent use;
// sessions are not and must be owned by one goroutine.
type Machine struct {
	cfg Config
}

// NewMachine validates cfg and returns a Machine.
func NewMachine(cfg Config) (*Machine, error) {
	if err := validateLevels(cfg.Levels); err != nil {
		return nil, fmt.Errorf("invalid escalation levels: %w", err)
	}
	if cfg.NeutralRetryCap < 0 {
		return nil, fmt.Errorf("neutral_retry_cap must not be negative")
	}
	if cfg.HistoryWindow < 0 {
		return nil, fmt.Errorf("history_window must not be negative")
	}
	levels := make([]LevelSpec, len(cfg.Levels))
	copy(levels, cfg.Levels)
	cfg.Levels = levels
	return &Machine{cfg: cfg}, nil
}

// MaxLevel is the terminal level N.
func (m *Machine) MaxLevel() Level { return Level(len(m.cfg.Levels)) }

// Spec returns the descriptor for level l, clamped to [1, N].
func (m *Machine) Spec(l Level) LevelSpec {
	switch {
	case l < 1:
		l = 1
	case l > m.MaxLevel():
		l = m.MaxLevel()
	}
	return m.cfg.Levels[l-1]
}

// Start opens a new ACTIVE session at level 1.
func (m *Machine) Start(slot, identity, reason string, now time.Time) *Session {
	return &Session{
		ID:        newSessionID(),
		Slot:      slot,
		Identity:  identity,
		Reason:    reason,
		StartedAt: now,
		Level:     1,
		MaxLevel:  m.MaxLevel(),
		Status:    StatusActive,
	}
}

// Transition applies a classified reply to s.
//
// INVARIANT: the level never decreases and never exceeds MaxLevel.
func (m *Machine) Transition(s *Session, r Response, now time.Time) (Outcome, error) {
	if s.Status.Terminal() {
		return Outcome{}, fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.ID, s.Status)
	}
	if _, err := ParseResponse(string(r)); err != nil {
		return Outcome{}, err
	}

	out := Outcome{From: s.Level, To: s.Level, Response: r, Effective: r}
	if r == Neutral {
		s.NeutralRetries++
		if s.NeutralRetries > m.cfg.NeutralRetryCap {
			out.Effective = Uncooperative
			out.Forced = true
		}
	}

	switch {
	case out.Effective == Cooperative:
		m.finish(s, StatusResolvedCooperative, "cooperative_reply", now)
	case out.Effective.escalates():
		if s.Level >= m.MaxLevel() {
			m.finish(s, StatusResolvedTimeoutEscalated, "max_level_exhausted", now)
		} else {
			s.Level++
			s.NeutralRetries = 0
		}
	}

	out.To = s.Level
	out.Status = s.Status
	return out, nil
}

// Escalate raises an ACTIVE session one level without a reply. It never
// ends the session: at MaxLevel it returns ErrMaxLevel.
func (m *Machine) Escalate(s *Session, reason string, now time.Time) (Outcome, error) {
	if s.Status.Terminal() {
		return Outcome{}, fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.ID, s.Status)
	}
	if s.Level >= m.MaxLevel() {
		return Outcome{}, fmt.Errorf("%w: %s", ErrMaxLevel, s.ID)
	}
	if reason == "" {
		reason = "manual"
	}
	from := s.Level
	s.Level++
	s.NeutralRetries = 0
	return Outcome{From: from, To: s.Level, Status: s.Status, Manual: true, Reason: reason}, nil
}

// Terminate ends an ACTIVE session externally. It is a no-op on a
// session that already ended.
func (m *Machine) Terminate(s *Session, reason string, now time.Time) bool {
	if s.Status.Terminal() {
		return false
	}
	m.finish(s, StatusTerminated, reason, now)
	return true
}

func (m *Machine) finish(s *Session, status Status, reason string, now time.Time) {
	s.Status = status
	s.EndReason = reason
	s.EndedAt = now
}
