// Package alert delivers guard events to webhook endpoints.
package alert

import "time"

// Event types emitted by the guard.
const (
	TypeUnknownActor      = "unknown_actor"
	TypeAccessDenied      = "access_denied"
	TypeEscalationAlarm   = "escalation_alarm"
	TypeSessionEscalated  = "session_escalated"
	TypeSessionCooperated = "session_cooperative"
	TypePassUsed          = "pass_used"
)

// Severity levels, ordered.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["escalation_alarm", "unknown_actor"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Throttle caps delivery across all webhooks.
type Throttle struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst"      json:"burst"`
}

// Config is the alerts section of the guard config.
type Config struct {
	Webhooks []AlertConfig `yaml:"webhooks"`
	Throttle Throttle      `yaml:"throttle"`
	// Timeout bounds one webhook request.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig has no webhooks and a 1/s, burst 5 throttle.
func DefaultConfig() Config {
	return Config{
		Throttle: Throttle{PerSecond: 1, Burst: 5},
		Timeout:  5 * time.Second,
	}
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Slot       string `json:"slot"`
	SessionID  string `json:"session_id,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Level      int    `json:"level,omitempty"`
	LevelName  string `json:"level_name,omitempty"`
	Tier       string `json:"tier,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ConfigHash string `json:"config_hash,omitempty"`
}
