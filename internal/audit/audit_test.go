package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func observation(decision string) AuditEntry {
	return AuditEntry{
		Event:      EventObservation,
		Slot:       "door",
		Identity:   "alice",
		Decision:   decision,
		Tier:       "high",
		Score:      0.8,
		ConfigHash: "sha256:abc123",
	}
}

func writeN(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := l.Record(observation("grant")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	writeN(t, l, 5)
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	writeN(t, l, 3)
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"grant"`, `"deny"`, 1)
	writeLines(t, path, lines)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	writeN(t, l, 3)
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	result := Verify(path)
	if result.Valid || result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got %+v", result)
	}
}

func TestVerifyDetectsForgedGenesis(t *testing.T) {
	l, path := newTestLog(t)
	writeN(t, l, 1)
	l.Close()

	lines := readLines(t, path)
	lines[0] = strings.Replace(lines[0], GenesisHash, "sha256:forged", 1)
	writeLines(t, path, lines)

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected error at line 1, got %+v", result)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	writeN(t, l, 2)
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	writeN(t, l2, 2)
	l2.Close()

	if result := Verify(path); !result.Valid || result.Lines != 4 {
		t.Fatalf("expected valid 4-line chain, got %+v", result)
	}
}

func TestConcurrentWritesKeepChain(t *testing.T) {
	l, path := newTestLog(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := l.Record(observation("deny")); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	l.Close()

	if result := Verify(path); !result.Valid || result.Lines != 100 {
		t.Fatalf("expected valid 100-line chain, got %+v", result)
	}
}

func TestRecordFillsTimestamp(t *testing.T) {
	l, path := newTestLog(t)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	writeN(t, l, 1)
	l.Close()

	var e AuditEntry
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &e); err != nil {
		t.Fatal(err)
	}
	if e.Timestamp != "2026-03-01T12:00:00.000Z" {
		t.Errorf("expected fixed timestamp, got %s", e.Timestamp)
	}
	if e.PrevHash != GenesisHash {
		t.Errorf("expected genesis prev_hash, got %s", e.PrevHash)
	}
}
