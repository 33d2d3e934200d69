// Package redact replaces personal data in transcribed replies with
// tokens before the text is sent to a remote language model.
package redact

import "strings"

// Redactor scrubs text with the built-in patterns plus configured ones.
type Redactor struct {
	literals []string
	extra    []ExtraPattern
}

// New builds a Redactor from cfg.
func New(cfg Config) (*Redactor, error) {
	extra, err := cfg.Compile()
	if err != nil {
		return nil, err
	}
	return &Redactor{literals: cfg.Literals, extra: extra}, nil
}

// Redact scans text, allocates tokens in tm and returns text with every
// sensitive value replaced. Longer values are replaced first.
func (r *Redactor) Redact(text string, tm *TokenMap) string {
	matches := Scan(text, r.literals, r.extra)
	if len(matches) == 0 {
		return text
	}
	for _, m := range matches {
		tm.Token(m.Type, m.Value)
	}
	result := text
	for _, val := range tm.values() {
		result = strings.ReplaceAll(result, val, tm.forward[val])
	}
	return result
}

// Detoken replaces all tokens in text with their original values.
func Detoken(text string, tm *TokenMap) string {
	result := text
	for _, tok := range tm.tokens() {
		val, _ := tm.Resolve(tok)
		result = strings.ReplaceAll(result, tok, val)
	}
	return result
}
