package guard

import (
	"context"

	"go.uber.org/zap"

	"github.com/ppiankov/roomguard/internal/alert"
	"github.com/ppiankov/roomguard/internal/audit"
	"github.com/ppiankov/roomguard/internal/conversation"
	"github.com/ppiankov/roomguard/internal/escalation"
)

// Run processes session events until ctx ends or the orchestrator is
// closed.
func (g *Guard) Run(ctx context.Context) error {
	defer g.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-g.events:
			if !ok {
				return nil
			}
			g.handleEvent(ctx, ev)
		}
	}
}

func (g *Guard) handleEvent(ctx context.Context, ev conversation.Event) {
	s := ev.Session
	if s == nil {
		return
	}
	base := audit.AuditEntry{
		Slot:      s.Slot,
		SessionID: s.ID,
		Identity:  s.Identity,
		Level:     int(s.Level),
	}

	switch ev.Kind {
	case conversation.EventSessionStarted:
		g.rec.SessionStarted(ctx, s.Reason)
		e := base
		e.Event = audit.EventSessionStarted
		e.Reason = s.Reason
		g.record(e)

	case conversation.EventTurnCompleted:
		if ev.Turn != nil {
			g.rec.Turn(ctx, string(ev.Turn.Response), int(ev.Turn.Level), ev.Turn.Duration)
		}
		for _, f := range ev.Failures {
			g.rec.Failure(ctx, f.Service, f.Timeout)
		}

	case conversation.EventLevelChanged:
		e := base
		e.Event = audit.EventLevelChanged
		if ev.Outcome != nil {
			e.Reason = string(ev.Outcome.Effective)
			if ev.Outcome.Manual {
				e.Reason = ev.Outcome.Reason
			}
		}
		g.record(e)
		if s.Level == s.MaxLevel {
			g.logger.Warn("alarm level reached", zap.String("slot", s.Slot), zap.String("session", s.ID))
			g.dispatch(g.sessionAlert(alert.TypeEscalationAlarm, alert.SeverityCritical, s, "maximum confrontation level reached"))
		}

	case conversation.EventSessionEnded:
		g.rec.SessionEnded(ctx, string(s.Status), int(s.Level))
		e := base
		e.Event = audit.EventSessionEnded
		e.Status = string(s.Status)
		e.Reason = s.EndReason
		g.record(e)
		if s.Status == escalation.StatusResolvedTimeoutEscalated {
			g.dispatch(g.sessionAlert(alert.TypeSessionEscalated, alert.SeverityCritical, s, s.EndReason))
		}
	}
}

func (g *Guard) sessionAlert(kind, severity string, s *escalation.Session, reason string) alert.AlertEvent {
	return alert.AlertEvent{
		Type:      kind,
		Severity:  severity,
		Slot:      s.Slot,
		SessionID: s.ID,
		Identity:  s.Identity,
		Level:     int(s.Level),
		LevelName: g.orch.Machine().Spec(s.Level).Name,
		Reason:    reason,
	}
}
