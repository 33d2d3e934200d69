// Package client talks to a roomguard gRPC server.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/roomguard/internal/api"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/trust"
)

// DefaultTimeout bounds each call when the context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client connects to a roomguard server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a client for addr. The connection is established lazily.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to roomguard server: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Observe submits a recognition event.
func (c *Client) Observe(ctx context.Context, obs api.ObserveRequest) (api.ObserveResponse, error) {
	var out api.ObserveResponse
	err := c.call(ctx, api.MethodObserve, obs, &out)
	return out, err
}

// Transcript queues a transcribed reply for slot. It reports whether the
// line was dropped because the slot's queue was full.
func (c *Client) Transcript(ctx context.Context, slot, text string) (bool, error) {
	var out api.TranscriptResponse
	err := c.call(ctx, api.MethodTranscript, api.TranscriptRequest{Slot: slot, Text: text}, &out)
	return out.Dropped, err
}

// StartSession opens a confrontation on slot.
func (c *Client) StartSession(ctx context.Context, slot, identity string) (*escalation.Session, error) {
	var out api.SessionResponse
	if err := c.call(ctx, api.MethodStartSession, api.StartSessionRequest{Slot: slot, Identity: identity}, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// CancelSession ends the session on slot.
func (c *Client) CancelSession(ctx context.Context, slot, reason string) (bool, error) {
	var out api.CancelSessionResponse
	err := c.call(ctx, api.MethodCancelSession, api.CancelSessionRequest{Slot: slot, Reason: reason}, &out)
	return out.Cancelled, err
}

// EscalateSession raises the session on slot one level.
func (c *Client) EscalateSession(ctx context.Context, slot, reason string) error {
	var out api.EscalateSessionResponse
	return c.call(ctx, api.MethodEscalateSession, api.EscalateSessionRequest{Slot: slot, Reason: reason}, &out)
}

// ListSessions returns the guard mode and running sessions.
func (c *Client) ListSessions(ctx context.Context) (api.ListSessionsResponse, error) {
	var out api.ListSessionsResponse
	err := c.call(ctx, api.MethodListSessions, api.ListSessionsRequest{}, &out)
	return out, err
}

// Profiles returns trust summaries. An empty identity lists all profiles.
func (c *Client) Profiles(ctx context.Context, identity string) ([]trust.Summary, error) {
	var out api.GetProfileResponse
	if err := c.call(ctx, api.MethodGetProfile, api.GetProfileRequest{Identity: identity}, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// SetMode activates or deactivates the guard.
func (c *Client) SetMode(ctx context.Context, active bool) (api.SetModeResponse, error) {
	var out api.SetModeResponse
	err := c.call(ctx, api.MethodSetMode, api.SetModeRequest{Active: active}, &out)
	return out, err
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return api.Decode(out, resp)
}
