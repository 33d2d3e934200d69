package trust

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Weights are the score component weights. They must sum to 1.
type Weights struct {
	Current     float64 `yaml:"current"`
	Historical  float64 `yaml:"historical"`
	Consistency float64 `yaml:"consistency"`
	Recency     float64 `yaml:"recency"`
}

// Bands are the minimum scores for each tier above UNKNOWN.
type Bands struct {
	Low     float64 `yaml:"low"`
	Medium  float64 `yaml:"medium"`
	High    float64 `yaml:"high"`
	Maximum float64 `yaml:"maximum"`
}

// Config holds the tunables of the trust engine.
type Config struct {
	Weights           Weights       `yaml:"weights"`
	Bands             Bands         `yaml:"bands"`
	HistoryCap        int           `yaml:"history_cap"`
	ConsistencyWindow int           `yaml:"consistency_window"`
	RecencyHalfLife   time.Duration `yaml:"recency_half_life"`

	// Decay is multiplicative per DecayUnit of idleness beyond the first unit.
	DecayRate  float64       `yaml:"decay_rate"`
	DecayUnit  time.Duration `yaml:"decay_unit"`
	DecayFloor float64       `yaml:"decay_floor"`
	ResetAfter time.Duration `yaml:"reset_after"`

	// SuccessThreshold is the confidence counted as a successful recognition.
	SuccessThreshold    float64 `yaml:"success_threshold"`
	AllowImplicitCreate bool    `yaml:"allow_implicit_create"`
}

// DefaultConfig returns the built-in trust parameters.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Current:     0.4,
			Historical:  0.3,
			Consistency: 0.2,
			Recency:     0.1,
		},
		Bands: Bands{
			Low:     0.25,
			Medium:  0.5,
			High:    0.75,
			Maximum: 0.9,
		},
		HistoryCap:          50,
		ConsistencyWindow:   10,
		RecencyHalfLife:     7 * 24 * time.Hour,
		DecayRate:           0.02,
		DecayUnit:           24 * time.Hour,
		DecayFloor:          0.3,
		ResetAfter:          30 * 24 * time.Hour,
		SuccessThreshold:    0.65,
		AllowImplicitCreate: true,
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	var errs []error
	w := c.Weights
	for name, v := range map[string]float64{
		"current": w.Current, "historical": w.Historical,
		"consistency": w.Consistency, "recency": w.Recency,
	} {
		if v < 0 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("weight %s must be non-negative", name))
		}
	}
	if sum := w.Current + w.Historical + w.Consistency + w.Recency; math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("weights must sum to 1, got %.4f", sum))
	}
	// Keeps the score non-decreasing in the latest confidence.
	if w.Consistency > w.Current {
		errs = append(errs, fmt.Errorf("consistency weight %.2f must not exceed current weight %.2f", w.Consistency, w.Current))
	}

	b := c.Bands
	if !(0 < b.Low && b.Low < b.Medium && b.Medium < b.High && b.High < b.Maximum && b.Maximum <= 1) {
		errs = append(errs, errors.New("bands must be strictly increasing within (0, 1]"))
	}
	if c.HistoryCap < 1 {
		errs = append(errs, errors.New("history_cap must be at least 1"))
	}
	if c.ConsistencyWindow < 1 {
		errs = append(errs, errors.New("consistency_window must be at least 1"))
	}
	if c.RecencyHalfLife <= 0 {
		errs = append(errs, errors.New("recency_half_life must be positive"))
	}
	if c.DecayRate < 0 || c.DecayRate >= 1 {
		errs = append(errs, errors.New("decay_rate must be in [0, 1)"))
	}
	if c.DecayUnit <= 0 {
		errs = append(errs, errors.New("decay_unit must be positive"))
	}
	if c.DecayFloor < 0 || c.DecayFloor > 1 {
		errs = append(errs, errors.New("decay_floor must be in [0, 1]"))
	}
	if c.ResetAfter != 0 && c.ResetAfter <= c.DecayUnit {
		errs = append(errs, errors.New("reset_after must exceed decay_unit (or be 0 to disable)"))
	}
	if c.SuccessThreshold < 0 || c.SuccessThreshold > 1 {
		errs = append(errs, errors.New("success_threshold must be in [0, 1]"))
	}
	return errors.Join(errs...)
}

// TierFor maps a score to its tier band.
func (c Config) TierFor(score float64) Tier {
	switch {
	case score >= c.Bands.Maximum:
		return TierMaximum
	case score >= c.Bands.High:
		return TierHigh
	case score >= c.Bands.Medium:
		return TierMedium
	case score >= c.Bands.Low:
		return TierLow
	default:
		return TierUnknown
	}
}

// AnchorScore is the score a profile holds when it sits exactly at a tier,
// used for enrollment and for resets of long-idle profiles.
func (c Config) AnchorScore(t Tier) float64 {
	switch t {
	case TierLow:
		return c.Bands.Low
	case TierMedium:
		return c.Bands.Medium
	case TierHigh:
		return c.Bands.High
	case TierMaximum:
		return 1.0
	default:
		return 0
	}
}
