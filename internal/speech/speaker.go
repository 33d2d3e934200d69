// Package speech renders spoken lines and collects transcribed replies.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Speaker renders a line as audio.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Config selects and configures a speaker backend.
type Config struct {
	Provider string        `yaml:"provider"` // log, command, gemini
	Command  []string      `yaml:"command"`  // "{text}" is replaced with the line
	Player   []string      `yaml:"player"`   // reads raw PCM on stdin
	Model    string        `yaml:"model"`
	Voice    string        `yaml:"voice"`
	Style    string        `yaml:"style"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig logs lines instead of playing them.
func DefaultConfig() Config {
	return Config{
		Provider: "log",
		Model:    "gemini-2.5-flash-preview-tts",
		Voice:    "Kore",
		Style:    "Speak as a professional security guard, authoritative, clear and firm but polite. Say: ",
		Player:   []string{"aplay", "-q", "-f", "S16_LE", "-r", "24000", "-c", "1"},
		Timeout:  15 * time.Second,
	}
}

// New builds the configured speaker.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Speaker, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLog(logger), nil
	case "command":
		return NewCommand(cfg.Command)
	case "gemini":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		}
		player, err := NewPlayer(cfg.Player)
		if err != nil {
			return nil, err
		}
		return NewGeminiTTS(ctx, cfg, player)
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Provider)
	}
}

// Log writes lines to the logger instead of producing audio.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log speaker. A nil logger discards lines.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Speak(_ context.Context, text string) error {
	l.logger.Info("speak", zap.String("text", text))
	return nil
}

// Command runs an external synthesizer such as espeak or say.
type Command struct {
	argv []string
}

// NewCommand creates a Command speaker. Arguments equal to "{text}" are
// replaced with the line; without a placeholder the line is appended.
func NewCommand(argv []string) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("speech command is required")
	}
	return &Command{argv: argv}, nil
}

func (c *Command) Speak(ctx context.Context, text string) error {
	args := make([]string, 0, len(c.argv))
	replaced := false
	for _, a := range c.argv[1:] {
		if strings.Contains(a, "{text}") {
			a = strings.ReplaceAll(a, "{text}", text)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, text)
	}
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
