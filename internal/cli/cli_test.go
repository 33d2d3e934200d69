package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/roomguard/internal/api"
	"github.com/ppiankov/roomguard/internal/breakglass"
	"github.com/ppiankov/roomguard/internal/config"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/trust"
)

func TestRunInit_WritesConfig(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "rg", "config.yaml")
	initForce = false
	t.Cleanup(func() { configPath = "" })

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if !strings.Contains(string(data), "unlock_door: high") {
		t.Error("config.yaml missing access policy")
	}
	for _, sub := range []string{"profiles", "inbox"} {
		if _, err := os.Stat(filepath.Join(dir, "rg", sub)); err != nil {
			t.Errorf("%s directory not created", sub)
		}
	}

	// The starter file must parse.
	if _, err := config.Parse(data); err != nil {
		t.Errorf("starter config does not parse: %v", err)
	}
}

func TestRunInit_NoOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { configPath = ""; initForce = false })
	if err := os.WriteFile(configPath, []byte("custom: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	initForce = false
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	data, _ := os.ReadFile(configPath)
	if string(data) != "custom: true\n" {
		t.Error("existing config was overwritten without --force")
	}

	initForce = true
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit --force failed: %v", err)
	}
	data, _ = os.ReadFile(configPath)
	if !strings.Contains(string(data), "roomguard configuration") {
		t.Error("--force did not overwrite config")
	}
}

func TestProfileEnrollAndList(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	t.Cleanup(func() { configPath = "" })
	content := "store:\n  backend: sqlite\n  path: " + filepath.Join(dir, "profiles.db") + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	enrollName = "Alice"
	enrollTier = "high"
	if err := runProfileEnroll(nil, []string{"alice"}); err != nil {
		t.Fatalf("enroll failed: %v", err)
	}

	engine, closeStore, err := openEngine(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	s, err := engine.Summary(t.Context(), "alice", time.Now())
	closeStore()
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Tier != trust.TierHigh || s.Name != "Alice" {
		t.Errorf("expected Alice at high, got %+v", s)
	}

	if err := runProfileRemove(nil, []string{"alice"}); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := runProfileRemove(nil, []string{"alice"}); err == nil {
		t.Error("expected error removing a missing profile")
	}
}

func TestProfileEnrollRejectsBadTier(t *testing.T) {
	enrollTier = "supreme"
	t.Cleanup(func() { enrollTier = "medium" })
	if err := runProfileEnroll(nil, []string{"alice"}); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestFormatProfiles(t *testing.T) {
	out := formatProfiles([]trust.Summary{
		{Identity: "alice", Name: "Alice", Tier: trust.TierHigh, EnrolledTier: trust.TierHigh, Score: 0.8123,
			Interactions: 4, LastSeen: time.Now(), IdleFor: 2 * time.Hour},
		{Identity: "bob", Tier: trust.TierLow, EnrolledTier: trust.TierLow, Score: 0.25},
	})
	for _, want := range []string{"IDENTITY", "alice", "0.812", "2h0m0s ago", "never"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if formatProfiles(nil) != "No profiles.\n" {
		t.Error("expected empty message")
	}
}

func TestFormatOutcome(t *testing.T) {
	out := formatOutcome(api.ObserveResponse{
		Slot: "door", Identity: "unknown", Decision: trust.Deny, Required: trust.TierMedium,
		Severity: "low", Started: true, SessionID: "abc",
	})
	for _, want := range []string{"unknown on door: DENY (requires medium)", "severity low", "session abc started"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatSessions(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	out := formatSessions([]*escalation.Session{{
		ID: "s1", Slot: "door", Level: 2, MaxLevel: 4, StartedAt: now.Add(-30 * time.Second),
		Turns: make([]escalation.Turn, 1),
	}}, now)
	if !strings.Contains(out, "1 active session(s)") || !strings.Contains(out, "2/4") || !strings.Contains(out, "30s") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if formatSessions(nil, now) != "No active sessions.\n" {
		t.Error("expected empty message")
	}
}

func TestFormatPasses(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	used := now.Add(-time.Minute)
	out := formatPasses([]breakglass.Token{
		{ID: "bg-1", Scope: breakglass.Scope{Slot: "door"}, Reason: "courier", ExpiresAt: now.Add(time.Hour)},
		{ID: "bg-2", Reason: "plumber", ExpiresAt: now.Add(time.Hour), UsedAt: &used},
		{ID: "bg-3", Reason: "old", ExpiresAt: now.Add(-time.Hour)},
	}, now)
	for _, want := range []string{"slot=door", "active", "used", "expired", "any"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if formatPasses(nil, now) != "No break-glass passes.\n" {
		t.Error("expected empty message")
	}
}
