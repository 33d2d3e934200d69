// Package policy maps guarded actions to the trust tier they require.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/roomguard/internal/trust"
)

// Default action names used by the guard.
const (
	ActionEnter      = "enter"
	ActionUnlockDoor = "unlock_door"
	ActionDisarm     = "disarm"
)

// AccessPolicy holds the tier requirements. Unlisted actions require
// DefaultTier.
type AccessPolicy struct {
	DefaultTier trust.Tier            `yaml:"default_tier"`
	Actions     map[string]trust.Tier `yaml:"actions"`
}

// DefaultPolicy returns the built-in requirements.
func DefaultPolicy() AccessPolicy {
	return AccessPolicy{
		DefaultTier: trust.TierMedium,
		Actions: map[string]trust.Tier{
			ActionEnter:      trust.TierMedium,
			ActionUnlockDoor: trust.TierHigh,
			ActionDisarm:     trust.TierMaximum,
		},
	}
}

// RequiredTier returns the tier needed for action. Matching is
// case-insensitive; an empty action means ActionEnter.
func (p AccessPolicy) RequiredTier(action string) trust.Tier {
	action = normalize(action)
	if action == "" {
		action = ActionEnter
	}
	for name, tier := range p.Actions {
		if normalize(name) == action {
			return tier
		}
	}
	return p.DefaultTier
}

// Validate rejects out-of-range tiers and blank action names.
func (p AccessPolicy) Validate() error {
	if !p.DefaultTier.Valid() {
		return fmt.Errorf("default_tier %d is not a valid tier", int(p.DefaultTier))
	}
	for name, tier := range p.Actions {
		if normalize(name) == "" {
			return fmt.Errorf("action name must not be empty")
		}
		if !tier.Valid() {
			return fmt.Errorf("action %q: tier %d is not valid", name, int(tier))
		}
	}
	return nil
}

// Names returns the configured action names, sorted.
func (p AccessPolicy) Names() []string {
	out := make([]string, 0, len(p.Actions))
	for name := range p.Actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
