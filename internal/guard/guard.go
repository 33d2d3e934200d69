// Package guard connects recognition, trust decisions and confrontation
// sessions into one service.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/roomguard/internal/alert"
	"github.com/ppiankov/roomguard/internal/audit"
	"github.com/ppiankov/roomguard/internal/breakglass"
	"github.com/ppiankov/roomguard/internal/conversation"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/metrics"
	"github.com/ppiankov/roomguard/internal/policy"
	"github.com/ppiankov/roomguard/internal/speech"
	"github.com/ppiankov/roomguard/internal/trust"
)

// End reasons set by the guard.
const (
	ReasonTrustedActor = "trusted_actor_recognized"
	ReasonDeactivated  = "guard_deactivated"
	ReasonOperator     = "operator_cancelled"
	ReasonPassUsed     = "break_glass_pass"
)

// ReasonOperatorEscalation is the default reason of a manual escalation.
const ReasonOperatorEscalation = "operator_escalation"

// Start reasons recorded on sessions.
const (
	StartUnknownActor = "unknown_actor"
	StartAccessDenied = "access_denied"
	StartManual       = "manual"
)

// DefaultSlot is used when an observation names no slot.
const DefaultSlot = "default"

// Config tunes the guard service.
type Config struct {
	Active           bool          `yaml:"active"`
	UnknownWindow    time.Duration `yaml:"unknown_window"`
	UnknownThreshold int           `yaml:"unknown_threshold"`
	// GrantCooldown ignores denials on a slot for this long after a grant
	// there. Zero disables it.
	GrantCooldown time.Duration `yaml:"grant_cooldown"`
}

// DefaultConfig starts active with a 5 minute, 3 sighting unknown window.
func DefaultConfig() Config {
	return Config{
		Active:           true,
		UnknownWindow:    5 * time.Minute,
		UnknownThreshold: 3,
	}
}

// Deps are the components a Guard ties together. Audit, Alerts, Passes
// and Metrics are optional.
type Deps struct {
	Engine       *trust.Engine
	Orchestrator *conversation.Orchestrator
	Feed         *speech.Feed
	Policy       policy.AccessPolicy
	Audit        *audit.Log
	Alerts       *alert.Dispatcher
	Passes       *breakglass.Store
	Metrics      *metrics.Recorder
	ConfigHash   string
	Logger       *zap.Logger
	Now          func() time.Time
}

// Observation is one recognition event from a camera slot. Identity is
// trust.Unknown (or empty) when nobody matched.
type Observation struct {
	Slot       string    `json:"slot"`
	Identity   string    `json:"identity"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action,omitempty"`
}

// Outcome reports what the guard did with an observation.
type Outcome struct {
	Slot      string         `json:"slot"`
	Identity  string         `json:"identity"`
	Known     bool           `json:"known"`
	Decision  trust.Decision `json:"decision"`
	Required  trust.Tier     `json:"required"`
	Trust     *trust.Result  `json:"trust,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Started   bool           `json:"started,omitempty"`
	Conflict  bool           `json:"conflict,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
	// Suppressed marks a denial inside the slot's grant cooldown.
	Suppressed bool `json:"suppressed,omitempty"`
	// Pass is the break-glass pass that turned a deny into a grant.
	Pass string `json:"pass,omitempty"`
}

// Guard is the room guard service.
type Guard struct {
	engine *trust.Engine
	orch   *conversation.Orchestrator
	feed   *speech.Feed
	audit  *audit.Log
	passes *breakglass.Store
	rec    *metrics.Recorder
	logger *zap.Logger
	now    func() time.Time

	unknown  *frequency
	cooldown time.Duration

	grantMu sync.Mutex
	grants  map[string]time.Time

	events      <-chan conversation.Event
	unsubscribe func()

	mu         sync.RWMutex
	active     bool
	policy     policy.AccessPolicy
	alerts     *alert.Dispatcher
	configHash string
}

// New creates a Guard. It subscribes to session events immediately; call
// Run to process them.
func New(cfg Config, deps Deps) (*Guard, error) {
	if deps.Engine == nil || deps.Orchestrator == nil || deps.Feed == nil {
		return nil, errors.New("guard requires engine, orchestrator and feed")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid access policy: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	window := cfg.UnknownWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	events, unsubscribe := deps.Orchestrator.Subscribe()
	return &Guard{
		engine:      deps.Engine,
		orch:        deps.Orchestrator,
		feed:        deps.Feed,
		audit:       deps.Audit,
		passes:      deps.Passes,
		rec:         deps.Metrics,
		logger:      deps.Logger.Named("guard"),
		now:         deps.Now,
		unknown:     newFrequency(window, cfg.UnknownThreshold),
		cooldown:    cfg.GrantCooldown,
		grants:      make(map[string]time.Time),
		events:      events,
		unsubscribe: unsubscribe,
		active:      cfg.Active,
		policy:      deps.Policy,
		alerts:      deps.Alerts,
		configHash:  deps.ConfigHash,
	}, nil
}

// Engine returns the trust engine.
func (g *Guard) Engine() *trust.Engine { return g.engine }

// HandleObservation decides access for one observation. Unknown actors
// and denied identities are confronted when the guard is active; a
// granted identity ends any session running on its slot. Duplicate
// observations report the decision without side effects.
func (g *Guard) HandleObservation(ctx context.Context, obs Observation) (Outcome, error) {
	if err := trust.ValidConfidence(obs.Confidence); err != nil {
		return Outcome{}, err
	}
	obs.Slot = strings.TrimSpace(obs.Slot)
	if obs.Slot == "" {
		obs.Slot = DefaultSlot
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = g.now()
	}
	pol, active := g.snapshot()

	out := Outcome{Slot: obs.Slot, Identity: obs.Identity, Required: pol.RequiredTier(obs.Action)}
	if !trust.IsUnknown(obs.Identity) {
		res, err := g.engine.RecordObservation(ctx, trust.Observation{
			Identity:   obs.Identity,
			Confidence: obs.Confidence,
			Timestamp:  obs.Timestamp,
		}, out.Required)
		switch {
		case errors.Is(err, trust.ErrUnknownIdentity):
			// Treated as an unknown actor below.
		case err != nil:
			return Outcome{}, err
		default:
			out.Known = true
			out.Trust = &res
			out.Decision = res.Decision
		}
	}

	duplicate := out.Trust != nil && out.Trust.Duplicate
	if !out.Known || (out.Decision == trust.Deny && !duplicate) {
		out.Suppressed = g.inCooldown(obs.Slot, obs.Timestamp)
	}

	if !out.Known {
		out.Decision = trust.Deny
		if !out.Suppressed {
			count, severity := g.unknown.hit(obs.Timestamp)
			out.Severity = severity
			g.logger.Info("unknown actor",
				zap.String("slot", obs.Slot), zap.String("identity", obs.Identity),
				zap.Int("recent", count), zap.String("severity", severity))
		}
	}

	if out.Decision == trust.Deny && !duplicate && !out.Suppressed {
		g.usePass(obs, &out)
	}

	g.rec.Observation(ctx, string(out.Decision), out.Known)
	g.record(audit.AuditEntry{
		Event:    audit.EventObservation,
		Slot:     obs.Slot,
		Identity: obs.Identity,
		Decision: string(out.Decision),
		Tier:     tierLabel(out),
		Score:    score(out),
		Reason:   "required " + out.Required.Label(),
	})

	if duplicate {
		return out, nil
	}
	if out.Suppressed {
		g.logger.Debug("denial ignored during grant cooldown",
			zap.String("slot", obs.Slot), zap.String("identity", obs.Identity))
		return out, nil
	}

	switch {
	case out.Decision == trust.Grant:
		g.noteGrant(obs.Slot, obs.Timestamp)
		reason := ReasonTrustedActor
		if out.Pass != "" {
			reason = ReasonPassUsed
		}
		out.Cancelled = g.orch.Cancel(obs.Slot, reason)
		if out.Cancelled {
			g.logger.Info("trusted actor recognized, session cancelled",
				zap.String("slot", obs.Slot), zap.String("identity", obs.Identity))
		}
	case !out.Known:
		g.dispatch(alert.AlertEvent{
			Type:     alert.TypeUnknownActor,
			Severity: out.Severity,
			Slot:     obs.Slot,
			Identity: obs.Identity,
			Reason:   "unrecognized actor observed",
		})
		if active {
			if err := g.confront(obs.Slot, obs.Identity, StartUnknownActor, &out); err != nil {
				return out, err
			}
		}
	default:
		g.dispatch(alert.AlertEvent{
			Type:     alert.TypeAccessDenied,
			Severity: alert.SeverityMedium,
			Slot:     obs.Slot,
			Identity: obs.Identity,
			Tier:     out.Trust.Tier.Label(),
			Reason:   fmt.Sprintf("tier %s below required %s", out.Trust.Tier, out.Required),
		})
		if active {
			if err := g.confront(obs.Slot, obs.Identity, StartAccessDenied, &out); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// usePass consumes a matching break-glass pass and grants the
// observation. Trust profiles are not touched.
func (g *Guard) usePass(obs Observation, out *Outcome) {
	if g.passes == nil {
		return
	}
	tok, err := g.passes.Use(obs.Identity, obs.Slot, obs.Action)
	if err != nil {
		g.logger.Warn("break-glass lookup failed", zap.Error(err))
		return
	}
	if tok == nil {
		return
	}
	out.Decision = trust.Grant
	out.Pass = tok.ID
	g.logger.Warn("break-glass pass used",
		zap.String("pass", tok.ID), zap.String("slot", obs.Slot),
		zap.String("identity", obs.Identity), zap.String("reason", tok.Reason))
	g.record(audit.AuditEntry{
		Event:    audit.EventPassUsed,
		Slot:     obs.Slot,
		Identity: obs.Identity,
		Decision: string(trust.Grant),
		Reason:   tok.ID + ": " + tok.Reason,
	})
	g.dispatch(alert.AlertEvent{
		Type:     alert.TypePassUsed,
		Severity: alert.SeverityMedium,
		Slot:     obs.Slot,
		Identity: obs.Identity,
		Reason:   fmt.Sprintf("pass %s used: %s", tok.ID, tok.Reason),
	})
}

func (g *Guard) confront(slot, identity, reason string, out *Outcome) error {
	g.feed.Drain(slot)
	h, err := g.orch.Start(slot, identity, reason)
	switch {
	case errors.Is(err, conversation.ErrSessionConflict):
		out.Conflict = true
		if s, ok := g.orch.Lookup(slot); ok {
			out.SessionID = s.ID
		}
		return nil
	case err != nil:
		return err
	}
	out.Started = true
	out.SessionID = h.ID
	return nil
}

// StartSession opens a confrontation on slot on operator request.
func (g *Guard) StartSession(slot, identity string) (*conversation.Handle, error) {
	if slot = strings.TrimSpace(slot); slot == "" {
		slot = DefaultSlot
	}
	g.feed.Drain(slot)
	return g.orch.Start(slot, identity, StartManual)
}

// CancelSession ends the session on slot. It reports whether one ran.
func (g *Guard) CancelSession(slot, reason string) bool {
	if reason == "" {
		reason = ReasonOperator
	}
	return g.orch.Cancel(slot, reason)
}

// EscalateSession raises the session on slot one level.
func (g *Guard) EscalateSession(slot, reason string) error {
	if slot = strings.TrimSpace(slot); slot == "" {
		slot = DefaultSlot
	}
	if reason == "" {
		reason = ReasonOperatorEscalation
	}
	if err := g.orch.Escalate(slot, reason); err != nil {
		return err
	}
	g.logger.Info("operator escalation requested", zap.String("slot", slot), zap.String("reason", reason))
	return nil
}

// Sessions returns snapshots of running sessions ordered by slot.
func (g *Guard) Sessions() []*escalation.Session {
	out := g.orch.Active()
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Transcript delivers a transcribed reply for slot. It reports whether
// an older transcript was dropped to make room.
func (g *Guard) Transcript(slot, text string) bool {
	if slot = strings.TrimSpace(slot); slot == "" {
		slot = DefaultSlot
	}
	return g.feed.Push(slot, text)
}

// SetActive switches guard mode. Deactivation ends every running session
// and returns how many were cancelled.
func (g *Guard) SetActive(active bool) int {
	g.mu.Lock()
	changed := g.active != active
	g.active = active
	g.mu.Unlock()

	var cancelled int
	if !active {
		cancelled = g.orch.CancelAll(ReasonDeactivated)
	}
	if changed {
		mode := "inactive"
		if active {
			mode = "active"
		}
		g.logger.Info("guard mode changed", zap.String("mode", mode), zap.Int("cancelled", cancelled))
		g.record(audit.AuditEntry{Event: audit.EventModeChanged, Status: mode})
	}
	return cancelled
}

// Active reports whether the guard confronts actors.
func (g *Guard) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Reload swaps the access policy and alert dispatcher.
func (g *Guard) Reload(p policy.AccessPolicy, alerts *alert.Dispatcher, configHash string) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid access policy: %w", err)
	}
	g.mu.Lock()
	g.policy = p
	g.alerts = alerts
	g.configHash = configHash
	g.mu.Unlock()
	g.logger.Info("configuration reloaded", zap.String("hash", configHash))
	return nil
}

// Close stops all sessions. Run returns once the remaining events are
// processed.
func (g *Guard) Close() {
	g.orch.Close()
}

func (g *Guard) noteGrant(slot string, at time.Time) {
	if g.cooldown <= 0 {
		return
	}
	g.grantMu.Lock()
	if at.After(g.grants[slot]) {
		g.grants[slot] = at
	}
	g.grantMu.Unlock()
}

func (g *Guard) inCooldown(slot string, at time.Time) bool {
	if g.cooldown <= 0 {
		return false
	}
	g.grantMu.Lock()
	defer g.grantMu.Unlock()
	last, ok := g.grants[slot]
	return ok && !at.Before(last) && at.Sub(last) < g.cooldown
}

func (g *Guard) snapshot() (policy.AccessPolicy, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy, g.active
}

func (g *Guard) record(e audit.AuditEntry) {
	if g.audit == nil {
		return
	}
	g.mu.RLock()
	e.ConfigHash = g.configHash
	g.mu.RUnlock()
	if err := g.audit.Record(e); err != nil {
		g.logger.Warn("audit write failed", zap.String("event", e.Event), zap.Error(err))
	}
}

func (g *Guard) dispatch(ev alert.AlertEvent) {
	g.mu.RLock()
	d := g.alerts
	ev.ConfigHash = g.configHash
	g.mu.RUnlock()
	if d == nil {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = g.now().UTC().Format(audit.TimestampFormat)
	}
	g.rec.Alert(context.Background(), ev.Type, d.Dispatch(ev))
}

func tierLabel(out Outcome) string {
	if out.Trust == nil {
		return trust.TierUnknown.Label()
	}
	return out.Trust.Tier.Label()
}

func score(out Outcome) float64 {
	if out.Trust == nil {
		return 0
	}
	return out.Trust.Score
}
