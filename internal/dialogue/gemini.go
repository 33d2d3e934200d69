package dialogue

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// Gemini generates lines with the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	persona Persona
	config  *genai.GenerateContentConfig
}

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{
		client:  client,
		model:   model,
		persona: cfg.Persona,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(float32(cfg.Temperature)),
			MaxOutputTokens: int32(cfg.MaxTokens),
		},
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, pc escalation.PromptContext) (string, error) {
	config := *g.config
	config.SystemInstruction = genai.NewContentFromText(SystemPrompt(g.persona, pc), genai.RoleUser)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(Situation(pc)), &config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return finish(resp.Text(), pc)
}
