package trust

import (
	"math"
	"time"
)

// computeScore combines the latest confidence with the profile history.
// The history must already contain the latest sample.
//
// INVARIANT: with history and gap fixed, the result never decreases as
// latest increases (requires Weights.Consistency <= Weights.Current).
func (c Config) computeScore(p *Profile, latest float64, gap time.Duration, staleness float64) float64 {
	w := c.Weights
	historical := mean(p.confidences(0)) * staleness
	s := w.Current*latest +
		w.Historical*historical +
		w.Consistency*consistency(p.confidences(c.ConsistencyWindow)) +
		w.Recency*c.recency(gap)
	return clamp01(s)
}

// consistency is 1 for a perfectly stable recognizer and drops with spread.
func consistency(values []float64) float64 {
	if len(values) < 2 {
		return 1
	}
	return math.Max(0, 1-2*stddev(values))
}

// recency halves every RecencyHalfLife since the identity was last seen.
func (c Config) recency(gap time.Duration) float64 {
	if gap <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(gap)/float64(c.RecencyHalfLife))
}

// decayFactor is the total multiplicative decay after idle time.
// The first DecayUnit of idleness is free.
func (c Config) decayFactor(idle time.Duration) float64 {
	if idle <= c.DecayUnit || c.DecayRate == 0 {
		return 1
	}
	return math.Pow(1-c.DecayRate, float64(idle)/float64(c.DecayUnit))
}

// applyDecay brings p's score up to date for now. It reports whether the
// profile was reset because it was idle past ResetAfter.
//
// INVARIANT: decay never lowers a score below DecayFloor and never raises it.
func (c Config) applyDecay(p *Profile, now time.Time) (reset bool) {
	if p.LastSeen.IsZero() || !now.After(p.LastSeen) {
		return false
	}
	idle := now.Sub(p.LastSeen)

	if c.ResetAfter > 0 && idle > c.ResetAfter {
		if len(p.History) == 0 && p.DecayedAt.After(p.LastSeen) {
			// Already reset by an earlier pass.
			return false
		}
		p.History = nil
		p.CurrentScore = c.AnchorScore(p.EnrolledTier)
		p.BaseLevel = c.TierFor(p.CurrentScore)
		p.DecayedAt = now
		return true
	}

	var applied time.Duration
	if p.DecayedAt.After(p.LastSeen) {
		applied = p.DecayedAt.Sub(p.LastSeen)
	}
	if idle <= applied {
		return false
	}
	step := c.decayFactor(idle) / c.decayFactor(applied)
	if p.CurrentScore > c.DecayFloor {
		p.CurrentScore = math.Max(p.CurrentScore*step, c.DecayFloor)
	}
	p.BaseLevel = c.TierFor(p.CurrentScore)
	p.DecayedAt = now
	return false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
