package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ppiankov/roomguard/internal/guard"
)

// Sink receives parsed envelopes. *guard.Guard implements it.
type Sink interface {
	HandleObservation(ctx context.Context, obs guard.Observation) (guard.Outcome, error)
	Transcript(slot, text string) bool
}

// Processor applies inbox files to a Sink.
type Processor struct {
	sink   Sink
	failed string
	logger *zap.Logger
}

// NewProcessor creates a Processor that moves rejected files into
// inbox/failed.
func NewProcessor(inbox string, sink Sink, logger *zap.Logger) (*Processor, error) {
	failed := filepath.Join(inbox, "failed")
	if err := os.MkdirAll(failed, 0700); err != nil {
		return nil, fmt.Errorf("create failed dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{sink: sink, failed: failed, logger: logger.Named("ingest")}, nil
}

// Process handles one file. Accepted files are removed; files that cannot
// be parsed or are rejected by the guard are moved to the failed directory.
func (p *Processor) Process(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	env, err := Parse(data)
	if err == nil {
		err = p.apply(ctx, env)
	}
	if err != nil {
		p.logger.Warn("inbox file rejected", zap.String("file", filepath.Base(path)), zap.Error(err))
		if mvErr := os.Rename(path, filepath.Join(p.failed, filepath.Base(path))); mvErr != nil {
			return errors.Join(err, fmt.Errorf("move to failed: %w", mvErr))
		}
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (p *Processor) apply(ctx context.Context, env Envelope) error {
	switch env.Kind {
	case KindTranscript:
		if p.sink.Transcript(env.Slot, env.Text) {
			p.logger.Debug("transcript queue full, oldest dropped", zap.String("slot", env.Slot))
		}
		return nil
	default:
		out, err := p.sink.HandleObservation(ctx, env.Observation())
		if err != nil {
			return err
		}
		p.logger.Debug("observation applied",
			zap.String("slot", out.Slot), zap.String("decision", string(out.Decision)),
			zap.Bool("started", out.Started))
		return nil
	}
}
