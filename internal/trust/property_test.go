package trust

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestScoreMonotonicInLatestConfidence: for a fixed history and gap, a
// higher latest confidence never yields a lower score.
func TestScoreMonotonicInLatestConfidence(t *testing.T) {
	cfg := DefaultConfig()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("score is non-decreasing in latest confidence", prop.ForAll(
		func(history []float64, a, b float64, gapHours int) bool {
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			gap := time.Duration(gapHours) * time.Hour
			staleness := cfg.decayFactor(gap)
			return scoreWith(cfg, history, hi, gap, staleness) >= scoreWith(cfg, history, lo, gap, staleness)-1e-12
		},
		gen.SliceOfN(20, gen.Float64Range(0, 1)),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 24*40),
	))

	properties.TestingRun(t)
}

// TestDecayNeverBreachesFloor: repeated decay passes never push a score
// below the floor and never raise it.
func TestDecayNeverBreachesFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResetAfter = 0
	cfg.DecayRate = 0.3

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("decay stays within [min(start, floor), start]", prop.ForAll(
		func(start float64, steps []int) bool {
			p := &Profile{Identity: "p", CurrentScore: start, LastSeen: t0}
			now := t0
			prev := start
			for _, h := range steps {
				now = now.Add(time.Duration(h) * time.Hour)
				cfg.applyDecay(p, now)
				if p.CurrentScore > prev {
					return false
				}
				if start >= cfg.DecayFloor && p.CurrentScore < cfg.DecayFloor {
					return false
				}
				if start < cfg.DecayFloor && p.CurrentScore != start {
					return false
				}
				prev = p.CurrentScore
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.SliceOf(gen.IntRange(0, 24*10)),
	))

	properties.TestingRun(t)
}

func scoreWith(cfg Config, history []float64, latest float64, gap time.Duration, staleness float64) float64 {
	p := &Profile{}
	for i, c := range history {
		p.History = append(p.History, Sample{Timestamp: t0.Add(time.Duration(i) * time.Second), Confidence: c})
	}
	p.appendSample(Sample{Timestamp: t0.Add(time.Hour), Confidence: latest}, cfg.HistoryCap)
	return cfg.computeScore(p, latest, gap, staleness)
}
