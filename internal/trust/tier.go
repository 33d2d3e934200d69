package trust

import (
	"fmt"
	"strings"
)

// Tier is an ordered trust level. Higher tier = more trusted.
type Tier int

const (
	TierUnknown Tier = iota
	TierLow
	TierMedium
	TierHigh
	TierMaximum
)

// Label returns the lowercase name of the tier.
func (t Tier) Label() string {
	switch t {
	case TierUnknown:
		return "unknown"
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierMaximum:
		return "maximum"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) String() string { return t.Label() }

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= TierUnknown && t <= TierMaximum
}

// ParseTier parses a tier name (case-insensitive) or its ordinal.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown", "0":
		return TierUnknown, nil
	case "low", "1":
		return TierLow, nil
	case "medium", "med", "2":
		return TierMedium, nil
	case "high", "3":
		return TierHigh, nil
	case "maximum", "max", "4":
		return TierMaximum, nil
	}
	return TierUnknown, fmt.Errorf("unknown trust tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid trust tier %d", int(t))
	}
	return []byte(t.Label()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
