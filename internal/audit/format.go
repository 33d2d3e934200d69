package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a text timeline.
func FormatTimeline(result *ReplayResult) string {
	title := "all"
	switch {
	case result.Filter.SessionID != "":
		title = "session " + result.Filter.SessionID
	case result.Filter.Slot != "":
		title = "slot " + result.Filter.Slot
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Audit: %s | No entries found.\n", title)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audit: %s | %s–%s UTC\n", title,
		formatTime(result.Summary.FirstTimestamp, "2006-01-02 15:04:05"),
		formatTime(result.Summary.LastTimestamp, "15:04:05"))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		detail := e.Reason
		switch e.Event {
		case EventObservation:
			detail = fmt.Sprintf("%s %s %.2f", strings.ToUpper(e.Decision), e.Tier, e.Score)
		case EventSessionEnded:
			detail = fmt.Sprintf("%s (%s)", e.Status, e.Reason)
		}
		level := "  "
		if e.Level > 0 {
			level = fmt.Sprintf("L%d", e.Level)
		}
		fmt.Fprintf(&b, "%-10s %-16s %-10s %-2s %-16s %s\n",
			formatTime(e.Timestamp, "15:04:05"), e.Event, truncate(e.Slot, 10), level,
			truncate(e.Identity, 16), detail)
	}

	b.WriteString(separator + "\n")
	s := result.Summary
	fmt.Fprintf(&b, "Summary: %d observations (%d grant, %d deny), %d sessions | Max level: %d\n",
		s.Observations, s.Grants, s.Denials, s.SessionsStarted, s.MaxLevel)
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatTime(ts, layout string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
