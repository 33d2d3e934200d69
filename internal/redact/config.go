package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Config controls scrubbing of actor replies before they reach a
// dialogue model.
type Config struct {
	// Mode is auto, always or never. Auto scrubs only for remote models.
	Mode          string            `yaml:"mode"`
	Literals      []string          `yaml:"literals"`
	ExtraPatterns []ExtraPatternDef `yaml:"extra_patterns"`
}

// ExtraPatternDef defines a custom pattern from config.
type ExtraPatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// ExtraPattern is a compiled custom pattern ready for scanning.
type ExtraPattern struct {
	Name        string
	Regex       *regexp.Regexp
	TokenPrefix PatternType
}

// Compile validates and compiles the extra patterns of cfg.
func (c Config) Compile() ([]ExtraPattern, error) {
	var out []ExtraPattern
	for _, def := range c.ExtraPatterns {
		if def.Name == "" {
			return nil, fmt.Errorf("redact pattern with empty name")
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", def.Name, err)
		}
		out = append(out, ExtraPattern{
			Name:        def.Name,
			Regex:       re,
			TokenPrefix: PatternType(strings.ToUpper(def.Name)),
		})
	}
	return out, nil
}
