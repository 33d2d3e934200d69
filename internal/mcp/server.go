// Package mcp exposes a running roomguard to MCP clients over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/roomguard/internal/api"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/trust"
)

// Backend is the guard API the tools call. *client.Client implements it.
type Backend interface {
	Observe(ctx context.Context, obs api.ObserveRequest) (api.ObserveResponse, error)
	StartSession(ctx context.Context, slot, identity string) (*escalation.Session, error)
	CancelSession(ctx context.Context, slot, reason string) (bool, error)
	EscalateSession(ctx context.Context, slot, reason string) error
	ListSessions(ctx context.Context) (api.ListSessionsResponse, error)
	Profiles(ctx context.Context, identity string) ([]trust.Summary, error)
	SetMode(ctx context.Context, active bool) (api.SetModeResponse, error)
}

// Server wraps the MCP SDK server around a Backend.
type Server struct {
	mcpServer *mcpsdk.Server
	backend   Backend
}

// New creates an MCP server with all roomguard tools registered.
func New(backend Backend, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{backend: backend}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "roomguard",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP on stdio. Blocks until ctx is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roomguard_observe",
		Description: "Submit a recognition event for a camera slot and return the access decision. Use identity \"unknown\" when nobody matched.",
	}, s.handleObserve)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roomguard_profile",
		Description: "Show the trust profile of one identity, or all profiles when identity is omitted.",
	}, s.handleProfile)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roomguard_sessions",
		Description: "List running confrontation sessions and whether the guard is active.",
	}, s.handleSessions)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roomguard_start",
		Description: "Start a confrontation session on a slot.",
	}, s.handleStart)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roomguard_cancel",
		Description: "Cancel the confrontation session running on a slot.",
	}, s.handleCancel)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roomguard_escalate",
		Description: "Raise the confrontation on a slot one level. Fails when it is already at the last level.",
	}, s.handleEscalate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "roomguard_mode",
		Description: "Activate or deactivate the guard. Deactivating ends every running session.",
	}, s.handleMode)
}
