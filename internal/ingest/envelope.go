// Package ingest feeds guard input from JSON files dropped into an inbox
// directory by external recognizers.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/roomguard/internal/guard"
	"github.com/ppiankov/roomguard/internal/trust"
)

// Envelope kinds.
const (
	KindObservation = "observation"
	KindTranscript  = "transcript"
)

// Envelope is one inbox file.
type Envelope struct {
	Kind       string    `json:"kind"`
	Slot       string    `json:"slot"`
	Identity   string    `json:"identity,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Action     string    `json:"action,omitempty"`
	Text       string    `json:"text,omitempty"`
}

// Parse decodes and validates an envelope.
func Parse(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
	switch e.Kind {
	case KindObservation:
		if err := trust.ValidConfidence(e.Confidence); err != nil {
			return Envelope{}, err
		}
	case KindTranscript:
		if strings.TrimSpace(e.Text) == "" {
			return Envelope{}, fmt.Errorf("transcript text is empty")
		}
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	return e, nil
}

// Observation converts an observation envelope for the guard.
func (e Envelope) Observation() guard.Observation {
	return guard.Observation{
		Slot:       e.Slot,
		Identity:   e.Identity,
		Confidence: e.Confidence,
		Timestamp:  e.Timestamp,
		Action:     e.Action,
	}
}
