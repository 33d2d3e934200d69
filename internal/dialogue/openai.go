package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// OpenAI generates lines through an OpenAI-compatible chat completions
// endpoint (OpenAI, Ollama, llama.cpp server, vLLM).
type OpenAI struct {
	cfg    Config
	client *http.Client
}

// NewOpenAI creates a generator for cfg.APIURL.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai generator requires a model")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	return &OpenAI{cfg: cfg, client: &http.Client{}}, nil
}

func (o *OpenAI) Generate(ctx context.Context, pc escalation.PromptContext) (string, error) {
	messages := []map[string]string{
		{"role": "system", "content": SystemPrompt(o.cfg.Persona, pc)},
		{"role": "user", "content": Situation(pc)},
	}
	body, err := json.Marshal(map[string]interface{}{
		"model":       o.cfg.Model,
		"messages":    messages,
		"max_tokens":  o.cfg.MaxTokens,
		"temperature": o.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dialogue request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dialogue HTTP %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 200))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return finish(result.Choices[0].Message.Content, pc)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
