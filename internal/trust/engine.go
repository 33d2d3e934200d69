package trust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidObservation rejects malformed confidence or timestamp values.
	ErrInvalidObservation = errors.New("invalid observation")
	// ErrUnknownIdentity is returned when implicit profile creation is disabled.
	ErrUnknownIdentity = errors.New("unknown identity")
)

// Decision is the access outcome for an identity against a required tier.
type Decision string

const (
	Grant Decision = "grant"
	Deny  Decision = "deny"
)

// Observation is one recognition event for a known identity.
type Observation struct {
	Identity   string
	Confidence float64
	Timestamp  time.Time
}

// Result describes what an operation decided and how the profile moved.
type Result struct {
	Identity   string   `json:"identity"`
	Decision   Decision `json:"decision"`
	Tier       Tier     `json:"tier"`
	Required   Tier     `json:"required"`
	Score      float64  `json:"score"`
	PriorScore float64  `json:"prior_score"`
	Created    bool     `json:"created,omitempty"`
	Duplicate  bool     `json:"duplicate,omitempty"`
	Reset      bool     `json:"reset,omitempty"`
}

// Summary is a read-only view of a profile.
type Summary struct {
	Identity         string        `json:"identity"`
	Name             string        `json:"name,omitempty"`
	Tier             Tier          `json:"tier"`
	EnrolledTier     Tier          `json:"enrolled_tier"`
	Score            float64       `json:"score"`
	Interactions     int           `json:"interactions"`
	Successful       int           `json:"successful"`
	SuccessRate      float64       `json:"success_rate"`
	RecentConfidence float64       `json:"recent_confidence"`
	HistoryLen       int           `json:"history_len"`
	LastSeen         time.Time     `json:"last_seen"`
	IdleFor          time.Duration `json:"idle_for"`
}

// Engine turns recognition observations into persistent trust and access
// decisions. Mutations for one identity are serialized; different
// identities proceed in parallel.
type Engine struct {
	store Store
	locks *keyedMutex

	mu  sync.RWMutex
	cfg Config
}

// NewEngine creates an Engine over store with cfg.
func NewEngine(store Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, errors.New("trust store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trust config: %w", err)
	}
	return &Engine{store: store, cfg: cfg, locks: newKeyedMutex()}, nil
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetConfig swaps the configuration. In-flight operations finish with the
// previous one.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid trust config: %w", err)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// RecordObservation folds one observation into the identity's profile,
// persists it and decides access against required.
//
// Replaying a sample already present in the history is a no-op reported
// with Result.Duplicate. Invalid observations never mutate state.
func (e *Engine) RecordObservation(ctx context.Context, obs Observation, required Tier) (Result, error) {
	if err := validateObservation(obs); err != nil {
		return Result{}, err
	}
	cfg := e.Config()

	unlock := e.locks.Lock(obs.Identity)
	defer unlock()

	p, created, err := e.load(ctx, cfg, obs.Identity, obs.Timestamp)
	if err != nil {
		return Result{}, err
	}

	if p.hasSample(obs.Timestamp, obs.Confidence) {
		return decide(p, required, p.CurrentScore, Result{Duplicate: true}), nil
	}
	if !p.LastSeen.IsZero() && obs.Timestamp.Before(p.LastSeen) {
		return Result{}, fmt.Errorf("%w: timestamp %s precedes last seen %s",
			ErrInvalidObservation, obs.Timestamp.Format(time.RFC3339Nano), p.LastSeen.Format(time.RFC3339Nano))
	}

	prior := p.CurrentScore
	reset := cfg.applyDecay(p, obs.Timestamp)

	var gap time.Duration
	staleness := 1.0
	if !p.LastSeen.IsZero() {
		gap = obs.Timestamp.Sub(p.LastSeen)
		if !reset {
			staleness = cfg.decayFactor(gap)
		}
	}

	p.appendSample(Sample{Timestamp: obs.Timestamp, Confidence: obs.Confidence}, cfg.HistoryCap)
	p.InteractionCount++
	if obs.Confidence >= cfg.SuccessThreshold {
		p.SuccessfulRecognitions++
	}
	p.CurrentScore = cfg.computeScore(p, obs.Confidence, gap, staleness)
	p.BaseLevel = cfg.TierFor(p.CurrentScore)
	if obs.Timestamp.After(p.LastSeen) {
		p.LastSeen = obs.Timestamp
	}
	p.DecayedAt = time.Time{}

	if err := e.store.Put(ctx, p); err != nil {
		return Result{}, fmt.Errorf("persist profile %q: %w", obs.Identity, err)
	}
	return decide(p, required, prior, Result{Created: created, Reset: reset}), nil
}

// Decide returns the access decision for identity at now without
// recording an observation. Decay is applied to the view only.
func (e *Engine) Decide(ctx context.Context, identity string, required Tier, now time.Time) (Result, error) {
	cfg := e.Config()
	p, err := e.store.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
		}
		return Result{}, err
	}
	prior := p.CurrentScore
	reset := cfg.applyDecay(p, now)
	return decide(p, required, prior, Result{Reset: reset}), nil
}

// Summary returns a read-only view of identity's profile at now.
func (e *Engine) Summary(ctx context.Context, identity string, now time.Time) (Summary, error) {
	cfg := e.Config()
	p, err := e.store.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Summary{}, fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
		}
		return Summary{}, err
	}
	cfg.applyDecay(p, now)
	return summarize(cfg, p, now), nil
}

// Summaries returns views of every stored profile at now.
func (e *Engine) Summaries(ctx context.Context, now time.Time) ([]Summary, error) {
	cfg := e.Config()
	profiles, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(profiles))
	for _, p := range profiles {
		cfg.applyDecay(p, now)
		out = append(out, summarize(cfg, p, now))
	}
	return out, nil
}

// Enroll creates or updates a profile at a chosen tier. An existing
// profile keeps its history and is raised to the tier's anchor score if
// below it.
func (e *Engine) Enroll(ctx context.Context, identity, name string, tier Tier, now time.Time) (*Profile, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(tier))
	}
	cfg := e.Config()

	unlock := e.locks.Lock(identity)
	defer unlock()

	p, err := e.store.Get(ctx, identity)
	switch {
	case errors.Is(err, ErrNotFound):
		p = &Profile{Identity: identity, CreatedAt: now.UTC()}
	case err != nil:
		return nil, err
	}
	if name != "" {
		p.Name = name
	}
	p.EnrolledTier = tier
	if anchor := cfg.AnchorScore(tier); p.CurrentScore < anchor {
		p.CurrentScore = anchor
	}
	p.BaseLevel = cfg.TierFor(p.CurrentScore)
	if err := e.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("persist profile %q: %w", identity, err)
	}
	return p, nil
}

// Remove deletes identity's profile. It is the only way a profile is
// ever removed.
func (e *Engine) Remove(ctx context.Context, identity string) error {
	unlock := e.locks.Lock(identity)
	defer unlock()
	if err := e.store.Delete(ctx, identity); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
		}
		return err
	}
	return nil
}

// SweepReport counts what a decay sweep changed.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Decayed int `json:"decayed"`
	Reset   int `json:"reset"`
}

// DecaySweep applies idle decay to every stored profile at now and
// persists the changed ones.
func (e *Engine) DecaySweep(ctx context.Context, now time.Time) (SweepReport, error) {
	cfg := e.Config()
	profiles, err := e.store.List(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	var errs []error
	for _, listed := range profiles {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		unlock := e.locks.Lock(listed.Identity)
		p, err := e.store.Get(ctx, listed.Identity)
		if err != nil {
			unlock()
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		before := p.CurrentScore
		beforeDecay := p.DecayedAt
		reset := cfg.applyDecay(p, now)
		if p.CurrentScore != before || !p.DecayedAt.Equal(beforeDecay) {
			if err := e.store.Put(ctx, p); err != nil {
				errs = append(errs, fmt.Errorf("persist profile %q: %w", p.Identity, err))
			} else if reset {
				report.Reset++
			} else if p.CurrentScore != before {
				report.Decayed++
			}
		}
		unlock()
	}
	return report, errors.Join(errs...)
}

func (e *Engine) load(ctx context.Context, cfg Config, identity string, ts time.Time) (*Profile, bool, error) {
	p, err := e.store.Get(ctx, identity)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("load profile %q: %w", identity, err)
	}
	if !cfg.AllowImplicitCreate {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}
	return &Profile{
		Identity:     identity,
		EnrolledTier: TierUnknown,
		BaseLevel:    TierUnknown,
		CreatedAt:    ts.UTC(),
	}, true, nil
}

func decide(p *Profile, required Tier, prior float64, r Result) Result {
	r.Identity = p.Identity
	r.Tier = p.BaseLevel
	r.Required = required
	r.Score = p.CurrentScore
	r.PriorScore = prior
	r.Decision = Deny
	if p.BaseLevel >= required {
		r.Decision = Grant
	}
	return r
}

func summarize(cfg Config, p *Profile, now time.Time) Summary {
	s := Summary{
		Identity:         p.Identity,
		Name:             p.Name,
		Tier:             p.BaseLevel,
		EnrolledTier:     p.EnrolledTier,
		Score:            p.CurrentScore,
		Interactions:     p.InteractionCount,
		Successful:       p.SuccessfulRecognitions,
		RecentConfidence: mean(p.confidences(cfg.ConsistencyWindow)),
		HistoryLen:       len(p.History),
		LastSeen:         p.LastSeen,
	}
	if p.InteractionCount > 0 {
		s.SuccessRate = float64(p.SuccessfulRecognitions) / float64(p.InteractionCount)
	}
	if !p.LastSeen.IsZero() && now.After(p.LastSeen) {
		s.IdleFor = now.Sub(p.LastSeen)
	}
	return s
}

func validateObservation(obs Observation) error {
	if err := validateIdentity(obs.Identity); err != nil {
		return err
	}
	if err := ValidConfidence(obs.Confidence); err != nil {
		return err
	}
	if obs.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidObservation)
	}
	return nil
}

// ValidConfidence rejects NaN and values outside [0, 1].
func ValidConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidObservation, c)
	}
	return nil
}

func validateIdentity(identity string) error {
	if IsUnknown(identity) {
		return fmt.Errorf("%w: identity %q is not a known identity", ErrInvalidObservation, identity)
	}
	if strings.TrimSpace(identity) != identity {
		return fmt.Errorf("%w: identity %q has surrounding whitespace", ErrInvalidObservation, identity)
	}
	return nil
}
