// Package dialogue turns an escalation prompt context into a spoken line
// using a language model, with the level's fixed phrase as fallback.
package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/roomguard/internal/escalation"
)

// Persona is who the guard claims to be.
type Persona struct {
	Name        string `yaml:"name"`
	Personality string `yaml:"personality"`
	Premises    string `yaml:"premises"`
}

// DefaultPersona returns the built-in guard persona.
func DefaultPersona() Persona {
	return Persona{
		Name:        "Guardian AI",
		Personality: "professional, authoritative, but polite",
		Premises:    "a residential room",
	}
}

// SystemPrompt renders the standing instructions for one level.
func SystemPrompt(p Persona, pc escalation.PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI security guard for %s.\n", p.Name, p.Premises)
	fmt.Fprintf(&b, "Your personality is %s.\n\n", p.Personality)
	fmt.Fprintf(&b, "Current situation: an unrecognized person has been detected.\n")
	fmt.Fprintf(&b, "Escalation level: %d/%d (%s)\n\n", pc.Level, pc.MaxLevel, pc.Spec.Name)
	fmt.Fprintf(&b, "Your response style should be %s: %s.\n\n", pc.Spec.Tone, strings.ToLower(pc.Spec.Description))
	b.WriteString("Guidelines:\n")
	fmt.Fprintf(&b, "- Reply with a single spoken line of at most %d words\n", pc.Spec.MaxWords)
	b.WriteString("- Be direct and clear\n")
	b.WriteString("- Maintain authority appropriate for the escalation level\n")
	b.WriteString("- Do not make threats of violence\n")
	b.WriteString("- Focus on requesting identification or asking them to leave\n")
	b.WriteString("- Output only the words to speak, no quotes or labels\n")
	fmt.Fprintf(&b, "\nExample of the expected register: %q", pc.Spec.Fallback)
	return b.String()
}

// Situation renders the per-turn context: how long the encounter has run
// and what was said so far.
func Situation(pc escalation.PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Encounter duration: %s. Turn %d. Escalations so far: %d.\n",
		pc.Elapsed.Round(time.Second), pc.TurnIndex+1, pc.Escalations)
	if len(pc.History) == 0 {
		b.WriteString("This is the first thing you say to them.\n")
	} else {
		b.WriteString("Previous exchanges:\n")
		for _, h := range pc.History {
			reply := h.Reply
			if reply == "" {
				reply = "(no answer)"
			}
			fmt.Fprintf(&b, "- level %d, you: %q; they: %q (%s)\n", h.Level, h.Prompt, reply, h.Response)
		}
		b.WriteString("Do not repeat your previous wording.\n")
	}
	b.WriteString("What do you say next?")
	return b.String()
}
