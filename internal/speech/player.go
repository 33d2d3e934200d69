package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Player pipes raw audio into an external playback command.
type Player struct {
	argv []string
}

// NewPlayer creates a Player for argv.
func NewPlayer(argv []string) (*Player, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("audio player command is required")
	}
	return &Player{argv: argv}, nil
}

// Play blocks until playback finishes. Cancelling ctx kills the player.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
