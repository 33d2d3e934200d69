package trust

import (
	"strings"
	"time"
)

// Unknown is the identity reported for an observation with no match.
const Unknown = "unknown"

// IsUnknown reports whether identity is the no-match sentinel.
func IsUnknown(identity string) bool {
	id := strings.TrimSpace(identity)
	return id == "" || strings.EqualFold(id, Unknown)
}

// Sample is one recorded recognition.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Profile is the persistent trust record of one identity.
type Profile struct {
	Identity               string    `json:"identity"`
	Name                   string    `json:"name,omitempty"`
	EnrolledTier           Tier      `json:"enrolled_tier"`
	BaseLevel              Tier      `json:"base_level"`
	CurrentScore           float64   `json:"current_score"`
	History                []Sample  `json:"history"`
	InteractionCount       int       `json:"interaction_count"`
	SuccessfulRecognitions int       `json:"successful_recognitions"`
	LastSeen               time.Time `json:"last_seen"`
	CreatedAt              time.Time `json:"created_at"`

	// DecayedAt is the point up to which idle decay was already applied
	// to CurrentScore. Zero when nothing was applied since LastSeen.
	DecayedAt time.Time `json:"decayed_at,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.History != nil {
		c.History = make([]Sample, len(p.History))
		copy(c.History, p.History)
	}
	return &c
}

func (p *Profile) hasSample(ts time.Time, confidence float64) bool {
	for _, s := range p.History {
		if s.Timestamp.Equal(ts) && s.Confidence == confidence {
			return true
		}
	}
	return false
}

func (p *Profile) appendSample(s Sample, capacity int) {
	p.History = append(p.History, s)
	if over := len(p.History) - capacity; over > 0 {
		p.History = append(p.History[:0:0], p.History[over:]...)
	}
}

func (p *Profile) confidences(last int) []float64 {
	h := p.History
	if last > 0 && len(h) > last {
		h = h[len(h)-last:]
	}
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.Confidence
	}
	return out
}
