package redact

import "strings"

// Mode determines whether redaction is applied.
type Mode string

const (
	ModeLocal Mode = "local" // no redaction, the model runs on this host
	ModeCloud Mode = "cloud" // replies are scrubbed before leaving the host
)

// DetectMode infers the mode from the dialogue provider and API URL.
// Hosted providers are cloud; an OpenAI-compatible URL on localhost is local.
func DetectMode(provider, apiURL string) Mode {
	switch provider {
	case "", "fallback":
		return ModeLocal
	case "openai":
		lower := strings.ToLower(apiURL)
		if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") || strings.Contains(lower, "[::1]") {
			return ModeLocal
		}
	}
	return ModeCloud
}

// ResolveMode applies the configured override to the detected mode:
//   - "always" -> cloud
//   - "never"  -> local
//   - otherwise detect from provider and URL
func ResolveMode(setting, provider, apiURL string) Mode {
	switch strings.ToLower(strings.TrimSpace(setting)) {
	case "always":
		return ModeCloud
	case "never":
		return ModeLocal
	default:
		return DetectMode(provider, apiURL)
	}
}
