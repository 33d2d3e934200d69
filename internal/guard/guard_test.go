package guard

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/roomguard/internal/alert"
	"github.com/ppiankov/roomguard/internal/audit"
	"github.com/ppiankov/roomguard/internal/breakglass"
	"github.com/ppiankov/roomguard/internal/classify"
	"github.com/ppiankov/roomguard/internal/conversation"
	"github.com/ppiankov/roomguard/internal/dialogue"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/policy"
	"github.com/ppiankov/roomguard/internal/speech"
	"github.com/ppiankov/roomguard/internal/trust"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type alertSink struct {
	mu    sync.Mutex
	types []string
}

func (s *alertSink) handler(w http.ResponseWriter, r *http.Request) {
	var ev alert.AlertEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
		s.mu.Lock()
		s.types = append(s.types, ev.Type)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *alertSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.types {
		if k == kind {
			n++
		}
	}
	return n
}

type harness struct {
	g         *Guard
	engine    *trust.Engine
	alerts    *alert.Dispatcher
	sink      *alertSink
	passes    *breakglass.Store
	auditPath string
	stop      func()
}

func newHarness(t *testing.T, window time.Duration) *harness {
	t.Helper()
	return newHarnessWith(t, window, DefaultConfig())
}

func newHarnessWith(t *testing.T, window time.Duration, cfg Config) *harness {
	t.Helper()
	engine, err := trust.NewEngine(trust.NewMemoryStore(), trust.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	machine, err := escalation.NewMachine(escalation.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	feed := speech.NewFeed(4)
	ccfg := conversation.DefaultConfig()
	ccfg.ResponseWindow = window
	orch, err := conversation.New(ccfg, conversation.Deps{
		Machine:    machine,
		Generator:  dialogue.Fallback{},
		Speaker:    speech.NewLog(nil),
		Listener:   feed,
		Classifier: classify.NewKeywordClassifier(),
	})
	if err != nil {
		t.Fatal(err)
	}

	sink := &alertSink{}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	acfg := alert.DefaultConfig()
	acfg.Throttle = alert.Throttle{}
	acfg.Webhooks = []alert.AlertConfig{{URL: srv.URL, Events: []string{"*"}}}
	dispatcher := alert.NewDispatcher(acfg, nil)

	passes, err := breakglass.NewStore(filepath.Join(t.TempDir(), "passes"))
	if err != nil {
		t.Fatal(err)
	}

	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(auditPath)
	if err != nil {
		t.Fatal(err)
	}

	g, err := New(cfg, Deps{
		Engine:       engine,
		Orchestrator: orch,
		Feed:         feed,
		Policy:       policy.DefaultPolicy(),
		Audit:        log,
		Alerts:       dispatcher,
		Passes:       passes,
		ConfigHash:   "sha256:test",
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	var once sync.Once
	h := &harness{g: g, engine: engine, alerts: dispatcher, sink: sink, passes: passes, auditPath: auditPath}
	h.stop = func() {
		once.Do(func() {
			g.Close()
			<-done
			dispatcher.Wait()
			srv.Close()
			log.Close()
		})
	}
	t.Cleanup(h.stop)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUnknownActorStartsSession(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()

	out, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Timestamp: t0})
	if err != nil {
		t.Fatal(err)
	}
	if out.Known || out.Decision != trust.Deny {
		t.Errorf("expected unknown deny, got %+v", out)
	}
	if !out.Started || out.SessionID == "" {
		t.Fatalf("expected a session to start, got %+v", out)
	}
	if out.Severity != alert.SeverityLow {
		t.Errorf("expected low severity for first sighting, got %s", out.Severity)
	}

	again, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "", Timestamp: t0.Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Conflict || again.SessionID != out.SessionID {
		t.Errorf("expected conflict with %s, got %+v", out.SessionID, again)
	}
	if len(h.g.Sessions()) != 1 {
		t.Errorf("expected 1 session, got %d", len(h.g.Sessions()))
	}
}

func TestInvalidConfidenceIsRejected(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.g.SetActive(true)
	ctx := context.Background()

	for i, c := range []float64{-3, 7, math.NaN()} {
		for _, id := range []string{"unknown", "alice"} {
			out, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: id, Confidence: c, Timestamp: t0.Add(time.Duration(i) * time.Second)})
			if !errors.Is(err, trust.ErrInvalidObservation) {
				t.Errorf("%s confidence %v: expected ErrInvalidObservation, got %v", id, c, err)
			}
			if out.Started || out.Conflict {
				t.Errorf("%s confidence %v: expected no session, got %+v", id, c, out)
			}
		}
	}
	if n := len(h.g.Sessions()); n != 0 {
		t.Fatalf("expected 0 sessions, got %d", n)
	}
	if _, err := h.engine.Summary(ctx, "alice", t0); !errors.Is(err, trust.ErrUnknownIdentity) {
		t.Errorf("expected no profile for alice, got %v", err)
	}

	out, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Confidence: 0.2, Timestamp: t0.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Severity != alert.SeverityLow {
		t.Errorf("expected first counted sighting to be low severity, got %s", out.Severity)
	}
	h.alerts.Wait()
	if n := h.sink.count(alert.TypeUnknownActor); n != 1 {
		t.Errorf("expected 1 unknown_actor alert, got %d", n)
	}
}

func TestTrustedActorCancelsSession(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	if _, err := h.engine.Enroll(ctx, "alice", "Alice", trust.TierHigh, t0); err != nil {
		t.Fatal(err)
	}

	first, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Timestamp: t0})
	if err != nil || !first.Started {
		t.Fatalf("expected session, got %+v, %v", first, err)
	}

	out, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "alice", Confidence: 0.95, Timestamp: t0.Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != trust.Grant || !out.Cancelled {
		t.Fatalf("expected grant with cancel, got %+v", out)
	}
	waitFor(t, "slot to free", func() bool { return len(h.g.Sessions()) == 0 })

	h.stop()
	result, err := audit.Replay(h.auditPath, audit.ReplayFilter{SessionID: first.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	last := result.Entries[len(result.Entries)-1]
	if last.Event != audit.EventSessionEnded || last.Reason != ReasonTrustedActor {
		t.Errorf("expected session end by trusted actor, got %+v", last)
	}
}

func TestDeniedIdentityIsConfronted(t *testing.T) {
	h := newHarness(t, time.Minute)
	out, err := h.g.HandleObservation(context.Background(), Observation{
		Slot: "safe", Identity: "bob", Confidence: 0.3, Timestamp: t0, Action: policy.ActionDisarm,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Known || out.Decision != trust.Deny || out.Required != trust.TierMaximum {
		t.Fatalf("expected known deny against maximum, got %+v", out)
	}
	if !out.Started {
		t.Error("expected a session for the denied identity")
	}
	s := h.g.Sessions()[0]
	if s.Reason != StartAccessDenied {
		t.Errorf("expected reason %s, got %s", StartAccessDenied, s.Reason)
	}
}

func TestDuplicateObservationHasNoSideEffects(t *testing.T) {
	h := newHarness(t, time.Minute)
	obs := Observation{Slot: "safe", Identity: "bob", Confidence: 0.3, Timestamp: t0, Action: policy.ActionDisarm}
	if _, err := h.g.HandleObservation(context.Background(), obs); err != nil {
		t.Fatal(err)
	}
	h.g.CancelSession("safe", "")
	waitFor(t, "slot to free", func() bool { return len(h.g.Sessions()) == 0 })

	out, err := h.g.HandleObservation(context.Background(), obs)
	if err != nil {
		t.Fatal(err)
	}
	if out.Trust == nil || !out.Trust.Duplicate {
		t.Fatalf("expected duplicate result, got %+v", out)
	}
	if out.Started {
		t.Error("duplicate observation should not start a session")
	}
}

func TestInactiveGuardDoesNotConfront(t *testing.T) {
	h := newHarness(t, time.Minute)
	if _, err := h.g.HandleObservation(context.Background(), Observation{Slot: "a", Timestamp: t0}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.g.HandleObservation(context.Background(), Observation{Slot: "b", Timestamp: t0}); err != nil {
		t.Fatal(err)
	}

	if n := h.g.SetActive(false); n != 2 {
		t.Errorf("expected 2 sessions cancelled, got %d", n)
	}
	waitFor(t, "sessions to end", func() bool { return len(h.g.Sessions()) == 0 })

	out, err := h.g.HandleObservation(context.Background(), Observation{Slot: "a", Timestamp: t0.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Started || out.Decision != trust.Deny {
		t.Errorf("expected deny without session, got %+v", out)
	}
	if h.g.Active() {
		t.Error("expected guard inactive")
	}
}

func TestTranscriptResolvesSession(t *testing.T) {
	h := newHarness(t, time.Minute)
	out, err := h.g.HandleObservation(context.Background(), Observation{Slot: "door", Timestamp: t0})
	if err != nil || !out.Started {
		t.Fatalf("expected session, got %+v, %v", out, err)
	}

	h.g.Transcript("door", "sorry, I'm leaving now")
	waitFor(t, "session to resolve", func() bool { return len(h.g.Sessions()) == 0 })

	h.stop()
	result, err := audit.Replay(h.auditPath, audit.ReplayFilter{SessionID: out.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	last := result.Entries[len(result.Entries)-1]
	if last.Status != string(escalation.StatusResolvedCooperative) {
		t.Errorf("expected cooperative resolution, got %+v", last)
	}
}

func TestSilenceRaisesAlarm(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	if _, err := h.g.HandleObservation(context.Background(), Observation{Slot: "door", Timestamp: t0}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "session to escalate", func() bool { return len(h.g.Sessions()) == 0 })
	h.stop()

	if got := h.sink.count(alert.TypeEscalationAlarm); got != 1 {
		t.Errorf("expected 1 escalation alarm, got %d", got)
	}
	if got := h.sink.count(alert.TypeSessionEscalated); got != 1 {
		t.Errorf("expected 1 session_escalated alert, got %d", got)
	}
	if got := h.sink.count(alert.TypeUnknownActor); got != 1 {
		t.Errorf("expected 1 unknown_actor alert, got %d", got)
	}

	if v := audit.Verify(h.auditPath); !v.Valid {
		t.Fatalf("expected valid audit chain, got %+v", v)
	}
	result, err := audit.Replay(h.auditPath, audit.ReplayFilter{Slot: "door"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.MaxLevel != 4 {
		t.Errorf("expected max level 4, got %d", result.Summary.MaxLevel)
	}
	if result.Summary.SessionsStarted != 1 || result.Summary.SessionsEnded != 1 {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
}

func TestReloadSwapsPolicy(t *testing.T) {
	h := newHarness(t, time.Minute)
	p := policy.AccessPolicy{DefaultTier: trust.TierUnknown}
	if err := h.g.Reload(p, nil, "sha256:new"); err != nil {
		t.Fatal(err)
	}
	out, err := h.g.HandleObservation(context.Background(), Observation{Slot: "door", Identity: "carol", Confidence: 0.1, Timestamp: t0})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != trust.Grant {
		t.Errorf("expected grant under permissive policy, got %+v", out)
	}

	if err := h.g.Reload(policy.AccessPolicy{DefaultTier: trust.Tier(42)}, nil, ""); err == nil {
		t.Error("expected invalid policy to be rejected")
	}
}

func TestUnknownFrequencySeverity(t *testing.T) {
	f := newFrequency(5*time.Minute, 3)
	want := []string{
		alert.SeverityLow, alert.SeverityLow,
		alert.SeverityMedium, alert.SeverityMedium, alert.SeverityMedium,
		alert.SeverityHigh, alert.SeverityHigh, alert.SeverityHigh,
		alert.SeverityCritical,
	}
	for i, w := range want {
		_, got := f.hit(t0.Add(time.Duration(i) * time.Second))
		if got != w {
			t.Errorf("hit %d: expected %s, got %s", i+1, w, got)
		}
	}

	n, sev := f.hit(t0.Add(10 * time.Minute))
	if n != 1 || sev != alert.SeverityLow {
		t.Errorf("expected window to expire, got %d %s", n, sev)
	}
}

func TestBreakGlassPassGrantsOnce(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()
	tok, err := h.passes.Create(breakglass.Scope{Slot: "door"}, "courier delivery", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	out, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Timestamp: t0})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision != trust.Grant || out.Pass != tok.ID {
		t.Fatalf("expected grant by pass %s, got %+v", tok.ID, out)
	}
	if out.Started {
		t.Error("expected no session for a pass holder")
	}

	again, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Timestamp: t0.Add(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if again.Decision != trust.Deny || again.Pass != "" || !again.Started {
		t.Errorf("expected the used pass not to apply again, got %+v", again)
	}

	h.stop()
	if n := h.sink.count(alert.TypePassUsed); n != 1 {
		t.Errorf("expected 1 pass_used alert, got %d", n)
	}
	result, err := audit.Replay(h.auditPath, audit.ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range result.Entries {
		if e.Event == audit.EventPassUsed {
			found = true
		}
	}
	if !found {
		t.Error("expected a pass_used audit entry")
	}
}

func TestGrantCooldownIgnoresDenials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GrantCooldown = time.Minute
	h := newHarnessWith(t, time.Minute, cfg)
	ctx := context.Background()
	if _, err := h.engine.Enroll(ctx, "alice", "Alice", trust.TierHigh, t0); err != nil {
		t.Fatal(err)
	}

	out, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "alice", Confidence: 0.95, Timestamp: t0})
	if err != nil || out.Decision != trust.Grant {
		t.Fatalf("expected grant, got %+v, %v", out, err)
	}

	out, err = h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Timestamp: t0.Add(10 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Suppressed || out.Started || out.Decision != trust.Deny {
		t.Errorf("expected suppressed deny, got %+v", out)
	}

	out, err = h.g.HandleObservation(ctx, Observation{Slot: "window", Identity: "unknown", Timestamp: t0.Add(10 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Suppressed || !out.Started {
		t.Errorf("expected other slot to be confronted, got %+v", out)
	}

	out, err = h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Timestamp: t0.Add(2 * time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Suppressed || !out.Started {
		t.Errorf("expected confrontation after cooldown, got %+v", out)
	}
	if out.Severity != alert.SeverityLow {
		t.Errorf("expected suppressed sighting to be uncounted, got severity %s", out.Severity)
	}
}

func TestOperatorEscalation(t *testing.T) {
	h := newHarness(t, time.Minute)
	ctx := context.Background()

	if err := h.g.EscalateSession("door", ""); !errors.Is(err, conversation.ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	first, err := h.g.HandleObservation(ctx, Observation{Slot: "door", Identity: "unknown", Timestamp: t0})
	if err != nil || !first.Started {
		t.Fatalf("expected session, got %+v, %v", first, err)
	}
	if err := h.g.EscalateSession("door", ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "level 2", func() bool {
		ss := h.g.Sessions()
		return len(ss) == 1 && ss[0].Level == 2
	})

	h.stop()
	result, err := audit.Replay(h.auditPath, audit.ReplayFilter{SessionID: first.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range result.Entries {
		if e.Event == audit.EventLevelChanged && e.Reason == ReasonOperatorEscalation && e.Level == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an operator level change in the audit log, got %+v", result.Entries)
	}
}
