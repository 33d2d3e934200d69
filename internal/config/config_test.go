package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/roomguard/internal/trust"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, hash, err := LoadWithHash(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != DefaultListen {
		t.Errorf("expected default listen, got %s", cfg.Server.Listen)
	}
	if hash != Hash(nil) {
		t.Errorf("expected empty-input hash, got %s", hash)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
conversation:
  response_window: 3s
access:
  actions:
    open_safe: maximum
store:
  backend: sqlite
  path: /tmp/profiles.db
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, hash, err := LoadWithHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Conversation.ResponseWindow != 3*time.Second {
		t.Errorf("expected 3s window, got %s", cfg.Conversation.ResponseWindow)
	}
	if cfg.Conversation.GenerateTimeout != 10*time.Second {
		t.Errorf("expected default generate timeout kept, got %s", cfg.Conversation.GenerateTimeout)
	}
	if cfg.Access.RequiredTier("open_safe") != trust.TierMaximum {
		t.Error("expected open_safe to require maximum")
	}
	if cfg.Access.RequiredTier("unlock_door") != trust.TierHigh {
		t.Error("expected default action to survive overlay")
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", cfg.Store.Backend)
	}
	if !strings.HasPrefix(hash, "sha256:") || hash == Hash(nil) {
		t.Errorf("unexpected hash %s", hash)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"weights":  "trust:\n  weights: {current: 0.9}\n",
		"yaml":     "guard: [\n",
		"tier":     "access:\n  default_tier: supreme\n",
		"levels":   "escalation:\n  levels: []\n",
		"timeouts": "conversation:\n  speak_timeout: 0s\n",
		"redact":   "dialogue:\n  redact:\n    extra_patterns: [{name: badge, regex: \"(\"}]\n",
		"cooldown": "guard:\n  grant_cooldown: -1m\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefaultTemplateParses(t *testing.T) {
	cfg, err := Parse([]byte(DefaultConfigYAML()))
	if err != nil {
		t.Fatalf("default template should parse: %v", err)
	}
	if cfg.Trust.ResetAfter != 30*24*time.Hour {
		t.Errorf("expected 720h reset, got %s", cfg.Trust.ResetAfter)
	}
	if cfg.Alerts.Throttle.Burst != 5 {
		t.Errorf("expected burst 5, got %d", cfg.Alerts.Throttle.Burst)
	}
}

func TestAuditPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Path = "/var/log/roomguard.jsonl"
	if got := cfg.AuditPath(); got != "/var/log/roomguard.jsonl" {
		t.Errorf("expected configured path, got %s", got)
	}
	cfg.Audit.Enabled = false
	if got := cfg.AuditPath(); got != "" {
		t.Errorf("expected empty path when disabled, got %s", got)
	}
}
