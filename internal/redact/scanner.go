package redact

import (
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of sensitive data.
type PatternType string

const (
	PatternEmail PatternType = "EMAIL"
	PatternPhone PatternType = "PHONE"
	PatternCard  PatternType = "CARD"
	PatternIP    PatternType = "IP"
	PatternCode  PatternType = "CODE"
	PatternName  PatternType = "NAME"
)

// Match is a single occurrence of sensitive data in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

var (
	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})\b`)

	// Card numbers: 13 to 19 digits, optionally grouped by spaces or dashes.
	cardRe = regexp.MustCompile(`\b(\d(?:[ \-]?\d){12,18})\b`)

	// Phone numbers: optional +country, 7 or more digits with separators.
	phoneRe = regexp.MustCompile(`(\+?\d[\d \-().]{5,}\d)`)

	ipv4Re = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

	// Spoken secrets: "the code is 4821", "password: hunter2".
	codeRe = regexp.MustCompile(`(?i)\b(?:code|pin|password|passcode|passwd)\b(?:\s+is)?[ \t]*[=:]?[ \t]*(\S+)`)
)

// Scan finds sensitive patterns in text and returns deduplicated matches
// sorted by position. Literals are matched case-sensitively as names.
func Scan(text string, literals []string, extra []ExtraPattern) []Match {
	seen := make(map[string]bool)
	var matches []Match

	add := func(typ PatternType, value string, start int) {
		value = strings.TrimRight(value, ".,;:!?\"'`)}]")
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		matches = append(matches, Match{Type: typ, Value: value, Start: start, End: start + len(value)})
	}

	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		add(PatternEmail, text[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range ipv4Re.FindAllStringIndex(text, -1) {
		add(PatternIP, text[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range cardRe.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		if luhn(v) {
			add(PatternCard, v, loc[0])
		}
	}
	for _, loc := range phoneRe.FindAllStringIndex(text, -1) {
		v := strings.TrimSpace(text[loc[0]:loc[1]])
		if digitCount(v) >= 7 && !seen[v] && !isIPLike(v) {
			add(PatternPhone, v, loc[0])
		}
	}
	for _, sub := range codeRe.FindAllStringSubmatchIndex(text, -1) {
		if sub[2] >= 0 {
			add(PatternCode, text[sub[2]:sub[3]], sub[2])
		}
	}
	for _, lit := range literals {
		if lit == "" {
			continue
		}
		if i := strings.Index(text, lit); i >= 0 {
			add(PatternName, lit, i)
		}
	}
	for _, ep := range extra {
		for _, loc := range ep.Regex.FindAllStringIndex(text, -1) {
			add(ep.TokenPrefix, text[loc[0]:loc[1]], loc[0])
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

func digitCount(s string) int {
	n := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n++
		}
	}
	return n
}

// isIPLike returns true if the string is only digits and dots.
func isIPLike(s string) bool {
	for _, c := range s {
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// luhn reports whether the digits of s pass the Luhn checksum.
func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
