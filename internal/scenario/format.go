package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders run results as human-readable text. With verbose,
// every simulated turn is printed.
func FormatText(results []*RunResult, verbose bool) string {
	var b strings.Builder

	totalFiles := len(results)
	fmt.Fprintf(&b, "Running %d scenario file", totalFiles)
	if totalFiles != 1 {
		b.WriteString("s")
	}
	b.WriteString("...\n\n")

	totalSteps := 0
	totalPassed := 0
	failedScenarios := 0

	for _, r := range results {
		totalSteps += r.Total
		totalPassed += r.Passed

		if r.Failed == 0 {
			fmt.Fprintf(&b, "  PASS  %s (%d/%d)\n", r.Name, r.Passed, r.Total)
		} else {
			failedScenarios++
			fmt.Fprintf(&b, "  FAIL  %s (%d/%d)\n", r.Name, r.Passed, r.Total)
		}
		for _, s := range r.Steps {
			if !s.Passed {
				for _, f := range s.Failures {
					fmt.Fprintf(&b, "    FAIL  step %d (%s on %s): %s\n", s.Index, s.Identity, s.Slot, f)
				}
			}
			if verbose {
				writeStep(&b, s)
			}
		}
	}

	fmt.Fprintf(&b, "\n%d of %d steps passed.", totalPassed, totalSteps)
	if failedScenarios > 0 {
		fmt.Fprintf(&b, " %d of %d scenarios failed.", failedScenarios, totalFiles)
	}
	b.WriteString("\n")

	return b.String()
}

func writeStep(b *strings.Builder, s StepResult) {
	fmt.Fprintf(b, "    step %d: %s on %s -> %s", s.Index, s.Identity, s.Slot, s.Decision)
	if s.Tier != "" {
		fmt.Fprintf(b, " (%s)", s.Tier)
	}
	b.WriteString("\n")
	for _, t := range s.Turns {
		reply := t.Reply
		if reply == "" {
			reply = "(silence)"
		}
		fmt.Fprintf(b, "      L%d guard: %s\n", t.Level, t.Prompt)
		fmt.Fprintf(b, "         actor: %s [%s]\n", reply, t.Response)
	}
	if s.Status != "" {
		fmt.Fprintf(b, "      session %s at level %d\n", s.Status, s.Level)
	}
}

// FormatJSON renders run results as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
