// Package api defines the roomguard.v1.Guard gRPC contract shared by the
// server and client. Messages travel as google.protobuf.Struct carrying
// the JSON form of the types below.
package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/guard"
	"github.com/ppiankov/roomguard/internal/trust"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "roomguard.v1.Guard"

// Method names.
const (
	MethodObserve         = "Observe"
	MethodTranscript      = "Transcript"
	MethodStartSession    = "StartSession"
	MethodCancelSession   = "CancelSession"
	MethodEscalateSession = "EscalateSession"
	MethodListSessions    = "ListSessions"
	MethodGetProfile      = "GetProfile"
	MethodSetMode         = "SetMode"
)

// FullMethod returns "/roomguard.v1.Guard/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type (
	ObserveRequest  = guard.Observation
	ObserveResponse = guard.Outcome
)

type TranscriptRequest struct {
	Slot string `json:"slot"`
	Text string `json:"text"`
}

type TranscriptResponse struct {
	Dropped bool `json:"dropped"`
}

type StartSessionRequest struct {
	Slot     string `json:"slot"`
	Identity string `json:"identity,omitempty"`
}

type SessionResponse struct {
	Session *escalation.Session `json:"session"`
}

type CancelSessionRequest struct {
	Slot   string `json:"slot"`
	Reason string `json:"reason,omitempty"`
}

type CancelSessionResponse struct {
	Cancelled bool `json:"cancelled"`
}

type EscalateSessionRequest struct {
	Slot   string `json:"slot"`
	Reason string `json:"reason,omitempty"`
}

type EscalateSessionResponse struct {
	Escalated bool `json:"escalated"`
}

type ListSessionsRequest struct{}

type ListSessionsResponse struct {
	Active   bool                  `json:"active"`
	Sessions []*escalation.Session `json:"sessions"`
}

// GetProfileRequest with an empty Identity lists every profile.
type GetProfileRequest struct {
	Identity string `json:"identity,omitempty"`
}

type GetProfileResponse struct {
	Profiles []trust.Summary `json:"profiles"`
}

type SetModeRequest struct {
	Active bool `json:"active"`
}

type SetModeResponse struct {
	Active    bool `json:"active"`
	Cancelled int  `json:"cancelled"`
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// Decode fills v from a Struct.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
