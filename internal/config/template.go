package config

// DefaultConfigYAML returns a commented starter configuration for
// roomguard init.
func DefaultConfigYAML() string {
	return `# roomguard configuration
# Generated by: roomguard init

guard:
  active: true
  # unknown_actor alerts get a higher severity as sightings accumulate
  unknown_window: 5m
  unknown_threshold: 3
  # ignore denials on a slot for this long after a grant there (0 disables)
  grant_cooldown: 0s

trust:
  weights: {current: 0.4, historical: 0.3, consistency: 0.2, recency: 0.1}
  bands: {low: 0.25, medium: 0.5, high: 0.75, maximum: 0.9}
  history_cap: 50
  decay_rate: 0.02
  decay_floor: 0.3
  reset_after: 720h
  allow_implicit_create: true

# Tier required per action. Unlisted actions use default_tier.
access:
  default_tier: medium
  actions:
    enter: medium
    unlock_door: high
    disarm: maximum

escalation:
  neutral_retry_cap: 2

conversation:
  generate_timeout: 10s
  speak_timeout: 15s
  response_window: 8s
  max_duration: 2m

# provider: gemini | openai | bedrock | fallback
# API keys fall back to GEMINI_API_KEY / OPENAI_API_KEY.
dialogue:
  provider: gemini
  model: gemini-2.5-flash
  # Replies are scrubbed of emails, phone numbers, card numbers and spoken
  # codes before reaching a remote model. mode: auto | always | never
  redact:
    mode: auto
    literals: []

# provider: log | command | gemini
speech:
  provider: log

# backend: file | sqlite | redis | memory
store:
  backend: file

audit:
  enabled: true

# Single-use break-glass passes issued with: roomguard pass issue
passes:
  enabled: true

alerts:
  throttle: {per_second: 1, burst: 5}
  webhooks: []
  # - url: https://hooks.slack.com/services/...
  #   format: slack
  #   events: [escalation_alarm, session_escalated]

server:
  listen: 127.0.0.1:50551
  # 0 disables the periodic trust decay sweep
  decay_interval: 1h

inbox:
  enabled: false

telemetry:
  endpoint: ""
`
}
