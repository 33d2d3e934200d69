package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/roomguard/internal/guard"
	"github.com/ppiankov/roomguard/internal/trust"
)

type recordingSink struct {
	mu          sync.Mutex
	obs         []guard.Observation
	transcripts []string
	err         error
}

func (s *recordingSink) HandleObservation(_ context.Context, obs guard.Observation) (guard.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return guard.Outcome{}, s.err
	}
	s.obs = append(s.obs, obs)
	return guard.Outcome{Slot: obs.Slot, Decision: trust.Deny}, nil
}

func (s *recordingSink) Transcript(slot, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, slot+":"+text)
	return false
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs), len(s.transcripts)
}

func writeAtomic(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"observation", `{"kind":"observation","slot":"door","identity":"alice","confidence":0.9}`, false},
		{"transcript", `{"kind":"Transcript","slot":"door","text":"hello"}`, false},
		{"bad json", `{"kind":`, true},
		{"unknown kind", `{"kind":"video"}`, true},
		{"confidence range", `{"kind":"observation","confidence":1.5}`, true},
		{"empty transcript", `{"kind":"transcript","text":"  "}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestProcessObservationRemovesFile(t *testing.T) {
	inbox := t.TempDir()
	sink := &recordingSink{}
	p, err := NewProcessor(inbox, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := writeAtomic(t, inbox, "obs-1.json", `{"kind":"observation","slot":"door","identity":"alice","confidence":0.8,"timestamp":"2026-03-01T12:00:00Z"}`)

	if err := p.Process(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected processed file to be removed")
	}
	if len(sink.obs) != 1 || sink.obs[0].Identity != "alice" || sink.obs[0].Slot != "door" {
		t.Errorf("unexpected observations: %+v", sink.obs)
	}
}

func TestProcessMovesBadFileToFailed(t *testing.T) {
	inbox := t.TempDir()
	p, err := NewProcessor(inbox, &recordingSink{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := writeAtomic(t, inbox, "bad.json", `not json`)

	if err := p.Process(context.Background(), path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := os.Stat(filepath.Join(inbox, "failed", "bad.json")); err != nil {
		t.Errorf("expected file in failed/: %v", err)
	}
}

func TestProcessMovesRejectedObservation(t *testing.T) {
	inbox := t.TempDir()
	sink := &recordingSink{err: errors.New("invalid observation")}
	p, err := NewProcessor(inbox, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := writeAtomic(t, inbox, "old.json", `{"kind":"observation","slot":"door","identity":"alice","confidence":0.5}`)

	if err := p.Process(context.Background(), path); err == nil {
		t.Fatal("expected sink error")
	}
	if _, err := os.Stat(filepath.Join(inbox, "failed", "old.json")); err != nil {
		t.Errorf("expected file in failed/: %v", err)
	}
}

func TestWatcherProcessesExistingAndNewFiles(t *testing.T) {
	inbox := t.TempDir()
	sink := &recordingSink{}
	p, err := NewProcessor(inbox, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	writeAtomic(t, inbox, "early.json", `{"kind":"transcript","slot":"door","text":"I live here"}`)

	cfg := DefaultConfig()
	cfg.Dir = inbox
	cfg.Debounce = 20 * time.Millisecond
	w := NewWatcher(cfg, func(path string) { _ = p.Process(context.Background(), path) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeAtomic(t, inbox, "late.json", `{"kind":"observation","slot":"door","identity":"unknown"}`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		nobs, ntr := sink.counts()
		if nobs == 1 && ntr == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 observation and 1 transcript, got %d and %d", nobs, ntr)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestIsInboxFile(t *testing.T) {
	cases := map[string]bool{
		"/in/a.json":     true,
		"/in/a.json.tmp": false,
		"/in/a.txt":      false,
	}
	for path, want := range cases {
		if got := isInboxFile(path); got != want {
			t.Errorf("isInboxFile(%q): expected %v, got %v", path, want, got)
		}
	}
}
