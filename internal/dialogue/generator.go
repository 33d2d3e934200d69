package dialogue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/redact"
)

// ErrEmptyResponse is returned when a model produced nothing speakable.
var ErrEmptyResponse = errors.New("empty model response")

// Generator produces the next spoken line for a prompt context.
type Generator interface {
	Generate(ctx context.Context, pc escalation.PromptContext) (string, error)
}

// Config selects and configures a generator backend.
type Config struct {
	Provider    string        `yaml:"provider"` // gemini, openai, bedrock, fallback
	Model       string        `yaml:"model"`
	APIURL      string        `yaml:"api_url"`
	APIKey      string        `yaml:"api_key"`
	Region      string        `yaml:"region"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Persona     Persona       `yaml:"persona"`
	Redact      redact.Config `yaml:"redact"`
}

// DefaultConfig returns the Gemini setup used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Provider:    "gemini",
		Model:       "gemini-2.5-flash",
		Temperature: 0.7,
		MaxTokens:   150,
		Timeout:     10 * time.Second,
		Persona:     DefaultPersona(),
	}
}

// New builds the configured generator. API keys fall back to the
// provider's conventional environment variable. Generators that send
// text off the host get actor replies scrubbed first.
func New(ctx context.Context, cfg Config) (Generator, error) {
	gen, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if redact.ResolveMode(cfg.Redact.Mode, cfg.Provider, cfg.APIURL) == redact.ModeLocal {
		return gen, nil
	}
	r, err := redact.New(cfg.Redact)
	if err != nil {
		return nil, err
	}
	return &Scrubbed{next: gen, redactor: r}, nil
}

func newBackend(ctx context.Context, cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		return NewGemini(ctx, cfg)
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAI(cfg)
	case "bedrock":
		return NewBedrock(ctx, cfg)
	case "", "fallback":
		return Fallback{}, nil
	default:
		return nil, fmt.Errorf("unknown dialogue provider %q", cfg.Provider)
	}
}

// Fallback always speaks the level's fixed phrase.
type Fallback struct{}

func (Fallback) Generate(_ context.Context, pc escalation.PromptContext) (string, error) {
	return pc.Spec.Fallback, nil
}

func finish(raw string, pc escalation.PromptContext) (string, error) {
	line := Clean(raw, pc.Spec)
	if line == "" {
		return "", ErrEmptyResponse
	}
	return line, nil
}
