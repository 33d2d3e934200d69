package guard

import (
	"sync"
	"time"

	"github.com/ppiankov/roomguard/internal/alert"
)

// frequency counts unknown-actor sightings in a sliding window and maps
// the count to an alert severity.
type frequency struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	hits      []time.Time
}

func newFrequency(window time.Duration, threshold int) *frequency {
	if threshold < 1 {
		threshold = 1
	}
	return &frequency{window: window, threshold: threshold}
}

// hit records a sighting at now and returns the count inside the window
// together with its severity.
func (f *frequency) hit(now time.Time) (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := now.Add(-f.window)
	kept := f.hits[:0]
	for _, t := range f.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	f.hits = append(kept, now)

	n := len(f.hits)
	switch {
	case n < f.threshold:
		return n, alert.SeverityLow
	case n < 2*f.threshold:
		return n, alert.SeverityMedium
	case n < 3*f.threshold:
		return n, alert.SeverityHigh
	default:
		return n, alert.SeverityCritical
	}
}
