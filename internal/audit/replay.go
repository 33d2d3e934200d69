package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter selects entries for replay. Empty fields match everything.
type ReplayFilter struct {
	SessionID string
	Slot      string
	From      time.Time
	To        time.Time
}

// ReplaySummary holds counts for a replayed range.
type ReplaySummary struct {
	Total           int    `json:"total"`
	Observations    int    `json:"observations"`
	Grants          int    `json:"grants"`
	Denials         int    `json:"denials"`
	SessionsStarted int    `json:"sessions_started"`
	SessionsEnded   int    `json:"sessions_ended"`
	MaxLevel        int    `json:"max_level"`
	FirstTimestamp  string `json:"first_timestamp"`
	LastTimestamp   string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Filter  ReplayFilter  `json:"-"`
	Entries []AuditEntry  `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching filter.
// Malformed lines are skipped.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		result.Summary.add(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f ReplayFilter) match(e AuditEntry) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Slot != "" && e.Slot != f.Slot {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func (s *ReplaySummary) add(e AuditEntry) {
	s.Total++
	switch e.Event {
	case EventObservation:
		s.Observations++
		switch e.Decision {
		case "grant":
			s.Grants++
		case "deny":
			s.Denials++
		}
	case EventSessionStarted:
		s.SessionsStarted++
	case EventSessionEnded:
		s.SessionsEnded++
	}
	if e.Level > s.MaxLevel {
		s.MaxLevel = e.Level
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
