// Package escalation implements the confrontation level state machine.
// It performs no I/O; callers own the sessions it operates on.
package escalation

import (
	"fmt"
	"time"
)

// Level is a 1-based confrontation level. Higher = more aggressive.
type Level int

// Urgency is the delivery urgency of a level.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Emphatic reports whether lines at this urgency end with an exclamation.
func (u Urgency) Emphatic() bool {
	return u == UrgencyHigh || u == UrgencyCritical
}

// LevelSpec describes how the guard speaks at one level.
type LevelSpec struct {
	Name        string  `yaml:"name" json:"name"`
	Tone        string  `yaml:"tone" json:"tone"`
	Description string  `yaml:"description" json:"description"`
	Urgency     Urgency `yaml:"urgency" json:"urgency"`
	MaxWords    int     `yaml:"max_words" json:"max_words"`
	Fallback    string  `yaml:"fallback" json:"fallback"`
	// ResponseWindow overrides the listen window at this level when set.
	ResponseWindow time.Duration `yaml:"response_window" json:"response_window,omitempty"`
}

// DefaultLevels returns the built-in four-level ladder:
// inquiry, firm request, warning, alarm.
func DefaultLevels() []LevelSpec {
	return []LevelSpec{
		{
			Name:        "inquiry",
			Tone:        "polite and curious",
			Description: "Friendly identification request",
			Urgency:     UrgencyLow,
			MaxWords:    20,
			Fallback:    "Hello, I don't recognize you. Could you please identify yourself?",
		},
		{
			Name:        "firm_request",
			Tone:        "firm and authoritative",
			Description: "Clear request to identify or leave",
			Urgency:     UrgencyMedium,
			MaxWords:    25,
			Fallback:    "Please state your business here or leave the premises immediately.",
		},
		{
			Name:        "warning",
			Tone:        "stern and warning",
			Description: "Clear warning about trespassing",
			Urgency:     UrgencyHigh,
			MaxWords:    30,
			Fallback:    "You are trespassing on private property. Leave now or security will be contacted.",
		},
		{
			Name:        "alarm",
			Tone:        "urgent and alarming",
			Description: "Final warning with security notification",
			Urgency:     UrgencyCritical,
			MaxWords:    35,
			Fallback:    "INTRUDER ALERT! You must leave immediately. Security has been notified!",
		},
	}
}

func validateLevels(levels []LevelSpec) error {
	if len(levels) < 1 {
		return fmt.Errorf("at least one escalation level is required")
	}
	for i, l := range levels {
		if l.Fallback == "" {
			return fmt.Errorf("level %d (%s): fallback phrase is required", i+1, l.Name)
		}
		if l.MaxWords < 1 {
			return fmt.Errorf("level %d (%s): max_words must be positive", i+1, l.Name)
		}
		switch l.Urgency {
		case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		default:
			return fmt.Errorf("level %d (%s): unknown urgency %q", i+1, l.Name, l.Urgency)
		}
	}
	return nil
}
