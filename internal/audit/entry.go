// Package audit keeps a tamper-evident record of guard decisions.
package audit

// Event names recorded in the log.
const (
	EventObservation    = "observation"
	EventSessionStarted = "session_started"
	EventLevelChanged   = "level_changed"
	EventSessionEnded   = "session_ended"
	EventModeChanged    = "mode_changed"
	EventPassUsed       = "pass_used"
)

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp  string  `json:"ts"`
	Event      string  `json:"event"`
	Slot       string  `json:"slot,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	Identity   string  `json:"identity,omitempty"`
	Decision   string  `json:"decision,omitempty"`
	Tier       string  `json:"tier,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Level      int     `json:"level,omitempty"`
	Status     string  `json:"status,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	ConfigHash string  `json:"config_hash"`
	PrevHash   string  `json:"prev_hash"`
}
