package speech

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrNoAudio is returned when the TTS response carried no audio part.
var ErrNoAudio = errors.New("tts response contained no audio")

// GeminiTTS synthesizes lines with a Gemini TTS model (24kHz mono PCM)
// and hands the audio to a Player.
type GeminiTTS struct {
	client *genai.Client
	model  string
	style  string
	player *Player
	config *genai.GenerateContentConfig
}

// NewGeminiTTS creates a Gemini TTS speaker.
func NewGeminiTTS(ctx context.Context, cfg Config, player *Player) (*GeminiTTS, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiTTS{
		client: client,
		model:  cfg.Model,
		style:  cfg.Style,
		player: player,
		config: &genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
				},
			},
		},
	}, nil
}

func (g *GeminiTTS) Speak(ctx context.Context, text string) error {
	audio, err := g.synthesize(ctx, text)
	if err != nil {
		return err
	}
	return g.player.Play(ctx, audio)
}

func (g *GeminiTTS) synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(g.style+text), g.config)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: %w", err)
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, ErrNoAudio
}
