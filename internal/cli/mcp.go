package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/roomguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs an MCP (Model Context Protocol) server over stdio that talks to a\n" +
		"running roomguard. Exposes tools: observe, profile, sessions, start, cancel, mode.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "roomguard MCP server running on stdio")
	return mcp.New(c, version).Run(ctx)
}
