package profilestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ppiankov/roomguard/internal/trust"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)

func sampleProfile(id string) *trust.Profile {
	return &trust.Profile{
		Identity:     id,
		Name:         "Alice Example",
		EnrolledTier: trust.TierMedium,
		BaseLevel:    trust.TierHigh,
		CurrentScore: 0.8123456789,
		History: []trust.Sample{
			{Timestamp: t0, Confidence: 0.91},
			{Timestamp: t0.Add(time.Minute), Confidence: 0.87},
		},
		InteractionCount:       7,
		SuccessfulRecognitions: 6,
		LastSeen:               t0.Add(time.Minute),
		CreatedAt:              t0.Add(-24 * time.Hour),
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatal(err)
	}
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	mem, err := Open(ctx, Config{Backend: "memory"})
	if err != nil {
		t.Fatal(err)
	}

	stores := map[string]Store{"file": fs, "sqlite": sq, "redis": rs, "memory": mem}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleProfile("alice")
			if err := s.Put(ctx, want); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := s.Get(ctx, "alice")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			assertProfileEqual(t, want, got)
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "nobody")
			if !errors.Is(err, trust.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := sampleProfile("bob")
			if err := s.Put(ctx, p); err != nil {
				t.Fatal(err)
			}
			p.CurrentScore = 0.31
			p.BaseLevel = trust.TierLow
			if err := s.Put(ctx, p); err != nil {
				t.Fatal(err)
			}
			got, _ := s.Get(ctx, "bob")
			if got.CurrentScore != 0.31 || got.BaseLevel != trust.TierLow {
				t.Errorf("expected overwrite, got %v/%s", got.CurrentScore, got.BaseLevel)
			}
		})
	}
}

func TestListAndDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"carol", "alice", "bob"} {
				if err := s.Put(ctx, sampleProfile(id)); err != nil {
					t.Fatal(err)
				}
			}
			list, err := s.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 3 || list[0].Identity != "alice" || list[2].Identity != "carol" {
				t.Fatalf("expected sorted alice..carol, got %d entries", len(list))
			}

			if err := s.Delete(ctx, "bob"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, "bob"); !errors.Is(err, trust.ErrNotFound) {
				t.Errorf("expected ErrNotFound on second delete, got %v", err)
			}
			list, _ = s.List(ctx)
			if len(list) != 2 {
				t.Errorf("expected 2 profiles after delete, got %d", len(list))
			}
		})
	}
}

func TestEngineOverBackends(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e, err := trust.NewEngine(s, trust.DefaultConfig())
			if err != nil {
				t.Fatal(err)
			}
			for i, c := range []float64{0.92, 0.94, 0.90} {
				_, err := e.RecordObservation(ctx, trust.Observation{
					Identity: "alice", Confidence: c, Timestamp: t0.Add(time.Duration(i) * time.Second),
				}, trust.TierMedium)
				if err != nil {
					t.Fatal(err)
				}
			}
			r, err := e.Decide(ctx, "alice", trust.TierMaximum, t0.Add(3*time.Second))
			if err != nil {
				t.Fatal(err)
			}
			if r.Decision != trust.Grant {
				t.Errorf("expected grant at maximum, got %s (tier %s)", r.Decision, r.Tier)
			}
		})
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"../etc/passwd", "a/b", "", "a..b"} {
		if err := s.Put(context.Background(), &trust.Profile{Identity: id}); err == nil {
			t.Errorf("expected error for identity %q", id)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func assertProfileEqual(t *testing.T, want, got *trust.Profile) {
	t.Helper()
	if got.Identity != want.Identity || got.Name != want.Name {
		t.Errorf("identity/name: expected %s/%s, got %s/%s", want.Identity, want.Name, got.Identity, got.Name)
	}
	if got.EnrolledTier != want.EnrolledTier || got.BaseLevel != want.BaseLevel {
		t.Errorf("tiers: expected %s/%s, got %s/%s", want.EnrolledTier, want.BaseLevel, got.EnrolledTier, got.BaseLevel)
	}
	if got.CurrentScore != want.CurrentScore {
		t.Errorf("score: expected %v, got %v", want.CurrentScore, got.CurrentScore)
	}
	if got.InteractionCount != want.InteractionCount || got.SuccessfulRecognitions != want.SuccessfulRecognitions {
		t.Errorf("counters: expected %d/%d, got %d/%d", want.InteractionCount, want.SuccessfulRecognitions,
			got.InteractionCount, got.SuccessfulRecognitions)
	}
	if !got.LastSeen.Equal(want.LastSeen) || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("times: expected %s/%s, got %s/%s", want.LastSeen, want.CreatedAt, got.LastSeen, got.CreatedAt)
	}
	if len(got.History) != len(want.History) {
		t.Fatalf("history: expected %d samples, got %d", len(want.History), len(got.History))
	}
	for i := range want.History {
		if !got.History[i].Timestamp.Equal(want.History[i].Timestamp) || got.History[i].Confidence != want.History[i].Confidence {
			t.Errorf("history[%d]: expected %+v, got %+v", i, want.History[i], got.History[i])
		}
	}
}
