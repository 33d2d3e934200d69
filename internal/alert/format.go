package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	level := "-"
	if event.Level > 0 {
		level = fmt.Sprintf("%d (%s)", event.Level, event.LevelName)
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("roomguard: %s", event.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Slot:* %s", event.Slot)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", event.Severity)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Level:* %s", level)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("roomguard %s: %s", event.Type, event.Slot),
			"severity": pagerDutySeverity(event.Severity),
			"source":   "roomguard",
			"custom_details": map[string]any{
				"slot":       event.Slot,
				"session_id": event.SessionID,
				"identity":   event.Identity,
				"level":      event.Level,
				"reason":     event.Reason,
			},
		},
	}
	return json.Marshal(payload)
}

func pagerDutySeverity(s string) string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "error"
	case SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}
