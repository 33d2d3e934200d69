package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/roomguard/internal/api"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/trust"
)

// --- Input/Output types ---

// ObserveInput defines parameters for the roomguard_observe tool.
type ObserveInput struct {
	Slot       string  `json:"slot,omitempty" jsonschema:"camera slot, defaults to the default slot"`
	Identity   string  `json:"identity" jsonschema:"recognized identity or unknown"`
	Confidence float64 `json:"confidence,omitempty" jsonschema:"recognition confidence in [0, 1]"`
	Action     string  `json:"action,omitempty" jsonschema:"guarded action (enter/unlock_door/disarm)"`
}

// ObserveOutput is the access decision.
type ObserveOutput struct {
	Slot      string  `json:"slot"`
	Identity  string  `json:"identity"`
	Known     bool    `json:"known"`
	Decision  string  `json:"decision"`
	Required  string  `json:"required"`
	Tier      string  `json:"tier,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Severity  string  `json:"severity,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Started   bool    `json:"started,omitempty"`
	Conflict  bool    `json:"conflict,omitempty"`
	Cancelled bool    `json:"cancelled,omitempty"`
	Pass      string  `json:"pass,omitempty"`
}

// ProfileInput defines parameters for the roomguard_profile tool.
type ProfileInput struct {
	Identity string `json:"identity,omitempty" jsonschema:"identity to show, omit to list all"`
}

// ProfileOutput lists trust profiles.
type ProfileOutput struct {
	Profiles []ProfileItem `json:"profiles"`
}

// ProfileItem describes one trust profile.
type ProfileItem struct {
	Identity     string  `json:"identity"`
	Name         string  `json:"name,omitempty"`
	Tier         string  `json:"tier"`
	EnrolledTier string  `json:"enrolled_tier"`
	Score        float64 `json:"score"`
	Interactions int     `json:"interactions"`
	SuccessRate  float64 `json:"success_rate"`
	LastSeen     string  `json:"last_seen,omitempty"`
	IdleFor      string  `json:"idle_for,omitempty"`
}

// SessionsInput is empty.
type SessionsInput struct{}

// SessionsOutput lists running sessions.
type SessionsOutput struct {
	Active   bool          `json:"active"`
	Sessions []SessionItem `json:"sessions"`
}

// SessionItem describes a single session.
type SessionItem struct {
	ID        string `json:"id"`
	Slot      string `json:"slot"`
	Identity  string `json:"identity,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Level     int    `json:"level"`
	Status    string `json:"status"`
	Turns     int    `json:"turns"`
	StartedAt string `json:"started_at"`
}

// StartInput defines parameters for the roomguard_start tool.
type StartInput struct {
	Slot     string `json:"slot" jsonschema:"camera slot"`
	Identity string `json:"identity,omitempty" jsonschema:"identity being confronted, if known"`
}

// CancelInput defines parameters for the roomguard_cancel tool.
type CancelInput struct {
	Slot   string `json:"slot" jsonschema:"camera slot"`
	Reason string `json:"reason,omitempty" jsonschema:"end reason recorded on the session"`
}

// CancelOutput reports whether a session was cancelled.
type CancelOutput struct {
	Slot      string `json:"slot"`
	Cancelled bool   `json:"cancelled"`
}

// EscalateInput defines parameters for the roomguard_escalate tool.
type EscalateInput struct {
	Slot   string `json:"slot" jsonschema:"camera slot"`
	Reason string `json:"reason,omitempty" jsonschema:"reason recorded in the audit log"`
}

// EscalateOutput confirms an escalation request.
type EscalateOutput struct {
	Slot      string `json:"slot"`
	Escalated bool   `json:"escalated"`
}

// ModeInput defines parameters for the roomguard_mode tool.
type ModeInput struct {
	Active bool `json:"active" jsonschema:"true to activate the guard"`
}

// ModeOutput reports the new mode.
type ModeOutput struct {
	Active    bool `json:"active"`
	Cancelled int  `json:"cancelled"`
}

// --- Handlers ---

func (s *Server) handleObserve(ctx context.Context, req *mcpsdk.CallToolRequest, input ObserveInput) (*mcpsdk.CallToolResult, ObserveOutput, error) {
	if input.Identity == "" {
		input.Identity = trust.Unknown
	}
	out, err := s.backend.Observe(ctx, api.ObserveRequest{
		Slot:       input.Slot,
		Identity:   input.Identity,
		Confidence: input.Confidence,
		Action:     input.Action,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return nil, ObserveOutput{}, fmt.Errorf("observe failed: %w", err)
	}
	result := ObserveOutput{
		Slot:      out.Slot,
		Identity:  out.Identity,
		Known:     out.Known,
		Decision:  string(out.Decision),
		Required:  out.Required.Label(),
		Severity:  out.Severity,
		SessionID: out.SessionID,
		Started:   out.Started,
		Conflict:  out.Conflict,
		Cancelled: out.Cancelled,
		Pass:      out.Pass,
	}
	if out.Trust != nil {
		result.Tier = out.Trust.Tier.Label()
		result.Score = out.Trust.Score
	}
	return nil, result, nil
}

func (s *Server) handleProfile(ctx context.Context, req *mcpsdk.CallToolRequest, input ProfileInput) (*mcpsdk.CallToolResult, ProfileOutput, error) {
	profiles, err := s.backend.Profiles(ctx, input.Identity)
	if err != nil {
		return nil, ProfileOutput{}, fmt.Errorf("profile lookup failed: %w", err)
	}
	out := ProfileOutput{Profiles: make([]ProfileItem, len(profiles))}
	for i, p := range profiles {
		item := ProfileItem{
			Identity:     p.Identity,
			Name:         p.Name,
			Tier:         p.Tier.Label(),
			EnrolledTier: p.EnrolledTier.Label(),
			Score:        p.Score,
			Interactions: p.Interactions,
			SuccessRate:  p.SuccessRate,
		}
		if !p.LastSeen.IsZero() {
			item.LastSeen = p.LastSeen.UTC().Format(time.RFC3339)
			item.IdleFor = p.IdleFor.Round(time.Second).String()
		}
		out.Profiles[i] = item
	}
	return nil, out, nil
}

func (s *Server) handleSessions(ctx context.Context, req *mcpsdk.CallToolRequest, input SessionsInput) (*mcpsdk.CallToolResult, SessionsOutput, error) {
	resp, err := s.backend.ListSessions(ctx)
	if err != nil {
		return nil, SessionsOutput{}, fmt.Errorf("list sessions failed: %w", err)
	}
	out := SessionsOutput{Active: resp.Active, Sessions: make([]SessionItem, len(resp.Sessions))}
	for i, sess := range resp.Sessions {
		out.Sessions[i] = sessionItem(sess)
	}
	return nil, out, nil
}

func (s *Server) handleStart(ctx context.Context, req *mcpsdk.CallToolRequest, input StartInput) (*mcpsdk.CallToolResult, SessionItem, error) {
	if input.Slot == "" {
		return &mcpsdk.CallToolResult{IsError: true}, SessionItem{}, nil
	}
	sess, err := s.backend.StartSession(ctx, input.Slot, input.Identity)
	if err != nil {
		return nil, SessionItem{}, fmt.Errorf("start session failed: %w", err)
	}
	return nil, sessionItem(sess), nil
}

func (s *Server) handleCancel(ctx context.Context, req *mcpsdk.CallToolRequest, input CancelInput) (*mcpsdk.CallToolResult, CancelOutput, error) {
	if input.Slot == "" {
		return &mcpsdk.CallToolResult{IsError: true}, CancelOutput{}, nil
	}
	cancelled, err := s.backend.CancelSession(ctx, input.Slot, input.Reason)
	if err != nil {
		return nil, CancelOutput{}, fmt.Errorf("cancel session failed: %w", err)
	}
	return nil, CancelOutput{Slot: input.Slot, Cancelled: cancelled}, nil
}

func (s *Server) handleEscalate(ctx context.Context, req *mcpsdk.CallToolRequest, input EscalateInput) (*mcpsdk.CallToolResult, EscalateOutput, error) {
	if input.Slot == "" {
		return &mcpsdk.CallToolResult{IsError: true}, EscalateOutput{}, nil
	}
	if err := s.backend.EscalateSession(ctx, input.Slot, input.Reason); err != nil {
		return nil, EscalateOutput{}, fmt.Errorf("escalate session failed: %w", err)
	}
	return nil, EscalateOutput{Slot: input.Slot, Escalated: true}, nil
}

func (s *Server) handleMode(ctx context.Context, req *mcpsdk.CallToolRequest, input ModeInput) (*mcpsdk.CallToolResult, ModeOutput, error) {
	resp, err := s.backend.SetMode(ctx, input.Active)
	if err != nil {
		return nil, ModeOutput{}, fmt.Errorf("set mode failed: %w", err)
	}
	return nil, ModeOutput{Active: resp.Active, Cancelled: resp.Cancelled}, nil
}

func sessionItem(sess *escalation.Session) SessionItem {
	if sess == nil {
		return SessionItem{}
	}
	return SessionItem{
		ID:        sess.ID,
		Slot:      sess.Slot,
		Identity:  sess.Identity,
		Reason:    sess.Reason,
		Level:     int(sess.Level),
		Status:    string(sess.Status),
		Turns:     len(sess.Turns),
		StartedAt: sess.StartedAt.UTC().Format(time.RFC3339),
	}
}
