// Package classify maps an actor's transcribed reply to a response class.
package classify

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ppiankov/roomguard/internal/escalation"
)

type weightedPhrase struct {
	phrase string
	weight float64
}

// Analysis is the scoring behind one classification.
type Analysis struct {
	Response    escalation.Response `json:"response"`
	Cooperative float64             `json:"cooperative"`
	Hostile     float64             `json:"hostile"`
	Matches     []string            `json:"matches,omitempty"`
}

// KeywordClassifier scores replies against weighted phrase lists. Phrases
// match on word boundaries, so "no" does not fire on "know".
type KeywordClassifier struct {
	cooperative []weightedPhrase
	hostile     []weightedPhrase
	threshold   float64
	minLength   int
}

// NewKeywordClassifier creates a classifier with the built-in phrase lists.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		cooperative: defaultCooperativePhrases(),
		hostile:     defaultHostilePhrases(),
		threshold:   0.4,
		minLength:   5,
	}
}

func defaultCooperativePhrases() []weightedPhrase {
	return []weightedPhrase{
		// Leaving: strongest signal of resolution.
		{"leaving", 0.6}, {"going now", 0.6}, {"going to leave", 0.6}, {"i'll leave", 0.6},
		{"going home", 0.5}, {"exit", 0.5}, {"mistake", 0.5}, {"wrong room", 0.6}, {"my bad", 0.5},
		// Identification. A bare "i am" only counts alongside a name or context.
		{"i am", 0.2}, {"i'm", 0.2}, {"my name is", 0.6}, {"this is", 0.3},
		{"name", 0.3}, {"called", 0.3},
		// Positive context.
		{"hello", 0.2}, {"hi", 0.2}, {"friend", 0.4}, {"roommate", 0.5},
		{"invited", 0.5}, {"permission", 0.4}, {"live here", 0.6}, {"guest", 0.4},
		{"authorized", 0.5}, {"allowed", 0.4}, {"belong here", 0.5}, {"visiting", 0.4},
		// Cooperation.
		{"sorry", 0.5}, {"excuse me", 0.4}, {"understand", 0.4}, {"explain", 0.4},
		{"here to", 0.4}, {"looking for", 0.4},
	}
}

func defaultHostilePhrases() []weightedPhrase {
	return []weightedPhrase{
		{"no", 0.4}, {"none of your business", 0.8}, {"shut up", 0.8},
		{"go away", 0.7}, {"leave me alone", 0.7}, {"get lost", 0.7},
		{"mind your own", 0.7}, {"screw you", 0.9}, {"make me", 0.6},
		{"not leaving", 0.9}, {"won't leave", 0.9}, {"not going", 0.7},
		{"not going to", 0.7}, {"not telling", 0.8}, {"none of your", 0.7},
		{"going to stay", 0.8}, {"staying here", 0.7},
		{"buzz off", 0.8}, {"piss off", 0.8}, {"fuck", 0.9}, {"fucking", 0.9},
	}
}

// Classify returns the response class for reply.
func (c *KeywordClassifier) Classify(reply string) escalation.Response {
	return c.Analyze(reply).Response
}

// Analyze scores reply. An empty reply is a TIMEOUT.
func (c *KeywordClassifier) Analyze(reply string) Analysis {
	text := normalize(reply)
	if strings.TrimSpace(text) == "" {
		return Analysis{Response: escalation.Timeout}
	}

	var a Analysis
	// Refusals like "not leaving" contain a cooperative phrase; hostile
	// matches are consumed first so they do not also count as cooperative.
	remaining := text
	for _, p := range c.hostile {
		if hit := containsPhrase(remaining, p.phrase); hit {
			a.Hostile += p.weight
			a.Matches = append(a.Matches, "-"+p.phrase)
			remaining = strings.ReplaceAll(remaining, " "+p.phrase+" ", " ")
		}
	}
	for _, p := range c.cooperative {
		if containsPhrase(remaining, p.phrase) {
			a.Cooperative += p.weight
			a.Matches = append(a.Matches, "+"+p.phrase)
		}
	}
	sort.Strings(a.Matches)

	switch {
	case a.Cooperative >= c.threshold && a.Cooperative >= a.Hostile:
		a.Response = escalation.Cooperative
	case a.Hostile >= c.threshold:
		a.Response = escalation.Uncooperative
	default:
		a.Response = escalation.Neutral
	}
	if a.Response == escalation.Cooperative && len([]rune(strings.TrimSpace(reply))) < c.minLength {
		// "hi" alone is not an explanation.
		a.Response = escalation.Neutral
	}
	return a
}

// normalize lowercases, folds punctuation to spaces and pads with spaces
// so phrases can be matched on word boundaries.
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '’' || r == '\'':
			b.WriteRune('\'')
			lastSpace = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	if !lastSpace {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsPhrase(normalized, phrase string) bool {
	return strings.Contains(normalized, " "+phrase+" ")
}
