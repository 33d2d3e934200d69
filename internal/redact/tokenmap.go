package redact

import (
	"fmt"
	"sort"
)

// TokenMap maps sensitive values to stable tokens and back. One map lives
// for one prompt. Not goroutine-safe.
type TokenMap struct {
	forward  map[string]string   // sensitive value -> "<<TYPE_N>>"
	reverse  map[string]string   // "<<TYPE_N>>" -> sensitive value
	counters map[PatternType]int // next number per pattern type
}

// NewTokenMap creates an empty token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{
		forward:  make(map[string]string),
		reverse:  make(map[string]string),
		counters: make(map[PatternType]int),
	}
}

// Token returns the token for a sensitive value. The same value always
// gets the same token within a map.
func (tm *TokenMap) Token(typ PatternType, value string) string {
	if tok, ok := tm.forward[value]; ok {
		return tok
	}
	tm.counters[typ]++
	tok := fmt.Sprintf("<<%s_%d>>", typ, tm.counters[typ])
	tm.forward[value] = tok
	tm.reverse[tok] = value
	return tok
}

// Resolve returns the original value for a token.
func (tm *TokenMap) Resolve(token string) (string, bool) {
	v, ok := tm.reverse[token]
	return v, ok
}

// Len returns the number of token mappings.
func (tm *TokenMap) Len() int {
	return len(tm.forward)
}

// values returns the sensitive values longest first for greedy replacement.
func (tm *TokenMap) values() []string {
	vals := make([]string, 0, len(tm.forward))
	for v := range tm.forward {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool {
		if len(vals[i]) != len(vals[j]) {
			return len(vals[i]) > len(vals[j])
		}
		return vals[i] < vals[j]
	})
	return vals
}

func (tm *TokenMap) tokens() []string {
	toks := make([]string, 0, len(tm.reverse))
	for t := range tm.reverse {
		toks = append(toks, t)
	}
	sort.Strings(toks)
	return toks
}
