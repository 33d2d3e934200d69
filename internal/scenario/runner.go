// Package scenario runs scripted guard scenarios in-process.
package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/roomguard/internal/classify"
	"github.com/ppiankov/roomguard/internal/conversation"
	"github.com/ppiankov/roomguard/internal/dialogue"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/guard"
	"github.com/ppiankov/roomguard/internal/policy"
	"github.com/ppiankov/roomguard/internal/speech"
	"github.com/ppiankov/roomguard/internal/trust"
)

// Epoch is the simulated start time of every scenario.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// sessionWait bounds how long a step waits for its session to end.
const sessionWait = 10 * time.Second

// Options carries the configuration a scenario runs against.
type Options struct {
	Trust      trust.Config
	Escalation escalation.Config
	Policy     policy.AccessPolicy
	Generator  conversation.Generator
	Logger     *zap.Logger
}

// DefaultOptions uses built-in configuration and fallback phrases.
func DefaultOptions() Options {
	return Options{
		Trust:      trust.DefaultConfig(),
		Escalation: escalation.DefaultConfig(),
		Policy:     policy.DefaultPolicy(),
		Generator:  dialogue.Fallback{},
	}
}

// Load parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	if s.Name == "" {
		s.Name = path
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and runs it.
func LoadAndRun(ctx context.Context, path string, opts Options) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result, err := Run(ctx, s, opts)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}

// Run executes every step against a fresh in-memory guard. Each step's
// session runs to completion before the next step starts.
func Run(ctx context.Context, s *Scenario, opts Options) (*RunResult, error) {
	if opts.Generator == nil {
		opts.Generator = dialogue.Fallback{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	clock := &simClock{now: Epoch}

	engine, err := trust.NewEngine(trust.NewMemoryStore(), opts.Trust)
	if err != nil {
		return nil, err
	}
	for _, e := range s.Enroll {
		if _, err := engine.Enroll(ctx, e.Identity, e.Name, e.Tier, clock.Now()); err != nil {
			return nil, fmt.Errorf("enroll %q: %w", e.Identity, err)
		}
	}
	machine, err := escalation.NewMachine(opts.Escalation)
	if err != nil {
		return nil, err
	}

	listener := newScriptListener()
	ccfg := conversation.DefaultConfig()
	orch, err := conversation.New(ccfg, conversation.Deps{
		Machine:    machine,
		Generator:  opts.Generator,
		Speaker:    speech.NewLog(opts.Logger),
		Listener:   listener,
		Classifier: classify.NewKeywordClassifier(),
		Logger:     opts.Logger,
		Now:        clock.Now,
	})
	if err != nil {
		return nil, err
	}
	events, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	gcfg := guard.DefaultConfig()
	gcfg.Active = !s.Inactive
	g, err := guard.New(gcfg, guard.Deps{
		Engine:       engine,
		Orchestrator: orch,
		Feed:         speech.NewFeed(1),
		Policy:       opts.Policy,
		Logger:       opts.Logger,
		Now:          clock.Now,
	})
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	defer func() {
		g.Close()
		<-done
	}()

	result := &RunResult{Name: s.Name, Total: len(s.Steps)}
	for i, step := range s.Steps {
		sr, err := runStep(ctx, g, orch, listener, events, clock, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if sr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Steps = append(result.Steps, sr)
	}
	return result, nil
}

func runStep(ctx context.Context, g *guard.Guard, orch *conversation.Orchestrator, listener *scriptListener, events <-chan conversation.Event, clock *simClock, index int, step Step) (StepResult, error) {
	after := step.Observe.After
	if after <= 0 {
		after = time.Minute
	}
	clock.Advance(after)

	slot := step.Observe.Slot
	if slot == "" {
		slot = guard.DefaultSlot
	}
	identity := step.Observe.Identity
	if identity == "" {
		identity = trust.Unknown
	}
	listener.Script(slot, step.Replies)

	out, err := g.HandleObservation(ctx, guard.Observation{
		Slot:       slot,
		Identity:   identity,
		Confidence: step.Observe.Confidence,
		Action:     step.Observe.Action,
		Timestamp:  clock.Now(),
	})
	if err != nil {
		return StepResult{}, err
	}

	sr := StepResult{
		Index:     index,
		Slot:      slot,
		Identity:  identity,
		Decision:  string(out.Decision),
		SessionID: out.SessionID,
	}
	if out.Trust != nil {
		sr.Tier = out.Trust.Tier.Label()
	}
	if out.Started {
		final, err := awaitEnd(ctx, events, out.SessionID)
		if err != nil {
			return StepResult{}, err
		}
		if err := awaitIdle(ctx, orch, slot); err != nil {
			return StepResult{}, err
		}
		sr.Status = string(final.Status)
		sr.Level = int(final.Level)
		for _, t := range final.Turns {
			sr.Turns = append(sr.Turns, TurnLine{
				Level:    int(t.Level),
				Prompt:   t.Prompt,
				Reply:    t.Reply,
				Response: string(t.Effective),
			})
		}
	}

	sr.Failures = check(step.Expect, out, sr)
	sr.Passed = len(sr.Failures) == 0
	return sr, nil
}

func awaitEnd(ctx context.Context, events <-chan conversation.Event, id string) (*escalation.Session, error) {
	timer := time.NewTimer(sessionWait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("event stream closed before session %s ended", id)
			}
			if ev.Kind == conversation.EventSessionEnded && ev.Session.ID == id {
				return ev.Session, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("session %s did not end within %s", id, sessionWait)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// awaitIdle waits for the orchestrator to release slot, which happens
// just after the end event is published.
func awaitIdle(ctx context.Context, orch *conversation.Orchestrator, slot string) error {
	deadline := time.Now().Add(sessionWait)
	for {
		if _, busy := orch.Lookup(slot); !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("slot %s still busy after %s", slot, sessionWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func check(want Expect, out guard.Outcome, got StepResult) []string {
	var failures []string
	if want.Decision != "" && !strings.EqualFold(want.Decision, got.Decision) {
		failures = append(failures, fmt.Sprintf("decision: expected %s, got %s", strings.ToLower(want.Decision), got.Decision))
	}
	if want.Tier != "" && !strings.EqualFold(want.Tier, got.Tier) {
		failures = append(failures, fmt.Sprintf("tier: expected %s, got %s", strings.ToLower(want.Tier), got.Tier))
	}
	if want.Started != nil && *want.Started != out.Started {
		failures = append(failures, fmt.Sprintf("started: expected %t, got %t", *want.Started, out.Started))
	}
	if want.FinalLevel != 0 && want.FinalLevel != got.Level {
		failures = append(failures, fmt.Sprintf("final_level: expected %d, got %d", want.FinalLevel, got.Level))
	}
	if want.Status != "" && !strings.EqualFold(want.Status, got.Status) {
		failures = append(failures, fmt.Sprintf("status: expected %s, got %s", strings.ToLower(want.Status), got.Status))
	}
	if want.Turns != 0 && want.Turns != len(got.Turns) {
		failures = append(failures, fmt.Sprintf("turns: expected %d, got %d", want.Turns, len(got.Turns)))
	}
	return failures
}

type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptListener replays scripted replies per slot without waiting.
type scriptListener struct {
	mu      sync.Mutex
	replies map[string][]string
}

func newScriptListener() *scriptListener {
	return &scriptListener{replies: make(map[string][]string)}
}

func (l *scriptListener) Script(slot string, replies []string) {
	l.mu.Lock()
	l.replies[slot] = append([]string(nil), replies...)
	l.mu.Unlock()
}

func (l *scriptListener) Listen(ctx context.Context, slot string, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.replies[slot]
	if len(queue) == 0 {
		return "", nil
	}
	l.replies[slot] = queue[1:]
	return queue[0], nil
}
