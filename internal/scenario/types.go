package scenario

import (
	"time"

	"github.com/ppiankov/roomguard/internal/trust"
)

// Enrollment seeds a profile before the steps run.
type Enrollment struct {
	Identity string     `yaml:"identity"`
	Name     string     `yaml:"name,omitempty"`
	Tier     trust.Tier `yaml:"tier"`
}

// Observe is the recognition event of one step. After is the simulated
// time since the previous step (default one minute).
type Observe struct {
	Slot       string        `yaml:"slot,omitempty"`
	Identity   string        `yaml:"identity"`
	Confidence float64       `yaml:"confidence,omitempty"`
	Action     string        `yaml:"action,omitempty"`
	After      time.Duration `yaml:"after,omitempty"`
}

// Expect lists the assertions of a step. Empty fields are not checked.
type Expect struct {
	Decision   string `yaml:"decision,omitempty"`
	Tier       string `yaml:"tier,omitempty"`
	Started    *bool  `yaml:"started,omitempty"`
	FinalLevel int    `yaml:"final_level,omitempty"`
	Status     string `yaml:"status,omitempty"`
	Turns      int    `yaml:"turns,omitempty"`
}

// Step is one observation plus the actor's scripted replies, one per
// turn. An empty reply is silence; once replies run out the actor is
// silent.
type Step struct {
	Observe Observe  `yaml:"observe"`
	Replies []string `yaml:"replies,omitempty"`
	Expect  Expect   `yaml:"expect"`
}

// Scenario is a named scripted run.
type Scenario struct {
	Name     string       `yaml:"name"`
	Inactive bool         `yaml:"inactive,omitempty"`
	Enroll   []Enrollment `yaml:"enroll,omitempty"`
	Steps    []Step       `yaml:"steps"`
}

// TurnLine is one exchange of a simulated session.
type TurnLine struct {
	Level    int    `json:"level"`
	Prompt   string `json:"prompt"`
	Reply    string `json:"reply,omitempty"`
	Response string `json:"response"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index     int        `json:"index"`
	Passed    bool       `json:"passed"`
	Slot      string     `json:"slot"`
	Identity  string     `json:"identity"`
	Decision  string     `json:"decision"`
	Tier      string     `json:"tier,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Level     int        `json:"level,omitempty"`
	Turns     []TurnLine `json:"turns,omitempty"`
	Failures  []string   `json:"failures,omitempty"`
}

// RunResult is the outcome of one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Steps  []StepResult `json:"steps"`
}
