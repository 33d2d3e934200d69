package breakglass

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestCreateGeneratesUniqueID(t *testing.T) {
	store, _ := newTestStore(t)

	t1, err := store.Create(Scope{}, "courier", DefaultDuration)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := store.Create(Scope{}, "plumber", DefaultDuration)
	if err != nil {
		t.Fatal(err)
	}
	if t1.ID == t2.ID {
		t.Error("expected unique IDs")
	}
	if !strings.HasPrefix(t1.ID, "bg-") {
		t.Errorf("expected bg- prefix, got %s", t1.ID)
	}
}

func TestCreateValidation(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Create(Scope{}, "   ", DefaultDuration); err == nil {
		t.Error("expected error for whitespace-only reason")
	}
	if _, err := store.Create(Scope{}, "x", MaxDuration+time.Minute); err == nil {
		t.Error("expected error for duration above maximum")
	}
	tok, err := store.Create(Scope{}, "x", 0)
	if err != nil {
		t.Fatal(err)
	}
	if tok.ExpiresAt.Sub(tok.CreatedAt) != DefaultDuration {
		t.Errorf("expected default duration, got %s", tok.ExpiresAt.Sub(tok.CreatedAt))
	}
}

func TestUseConsumesOnce(t *testing.T) {
	store, _ := newTestStore(t)
	created, err := store.Create(Scope{Slot: "door"}, "courier", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	used, err := store.Use("unknown", "door", "enter")
	if err != nil {
		t.Fatal(err)
	}
	if used == nil || used.ID != created.ID {
		t.Fatalf("expected pass %s to be used, got %+v", created.ID, used)
	}
	if used.UsedBy != "unknown" {
		t.Errorf("expected used_by unknown, got %q", used.UsedBy)
	}

	again, err := store.Use("unknown", "door", "enter")
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("expected a consumed pass not to apply twice")
	}
}

func TestUseRespectsScope(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Create(Scope{Identity: "bob", Action: "unlock_door"}, "bob forgot keys", time.Hour); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		identity, slot, action string
		want                   bool
	}{
		{"alice", "door", "unlock_door", false},
		{"bob", "door", "enter", false},
		{"bob", "door", "unlock_door", true},
	}
	for _, tt := range tests {
		got, err := store.Use(tt.identity, tt.slot, tt.action)
		if err != nil {
			t.Fatal(err)
		}
		if (got != nil) != tt.want {
			t.Errorf("Use(%s, %s, %s): expected applied=%v", tt.identity, tt.slot, tt.action, tt.want)
		}
	}
}

func TestExpiredPassDoesNotApply(t *testing.T) {
	store, now := newTestStore(t)
	if _, err := store.Create(Scope{}, "short", time.Minute); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(2 * time.Minute)

	got, err := store.Use("unknown", "door", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected expired pass not to apply")
	}
}

func TestRevoke(t *testing.T) {
	store, _ := newTestStore(t)
	tok, err := store.Create(Scope{}, "mistake", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Revoke(tok.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.Revoke(tok.ID); !errors.Is(err, ErrInactive) {
		t.Errorf("expected ErrInactive on second revoke, got %v", err)
	}
	if got, _ := store.Use("unknown", "door", ""); got != nil {
		t.Error("expected revoked pass not to apply")
	}
	if err := store.Revoke("bg-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Revoke("../etc/passwd"); err == nil {
		t.Error("expected error for path traversal id")
	}
}

func TestListAndCleanup(t *testing.T) {
	store, now := newTestStore(t)
	first, _ := store.Create(Scope{}, "first", time.Minute)
	*now = now.Add(time.Second)
	if _, err := store.Create(Scope{}, "second", time.Hour); err != nil {
		t.Fatal(err)
	}

	tokens, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 || tokens[0].ID != first.ID {
		t.Fatalf("expected 2 passes oldest first, got %+v", tokens)
	}

	*now = now.Add(2 * time.Hour)
	removed, err := store.Cleanup(30 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
}
