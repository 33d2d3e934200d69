package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/roomguard/internal/breakglass"
)

var (
	bgReason   string
	bgDuration time.Duration
	bgScope    breakglass.Scope
	bgCleanup  time.Duration
)

func init() {
	rootCmd.AddCommand(breakGlassCmd)
	breakGlassCmd.AddCommand(breakGlassListCmd)
	breakGlassCmd.AddCommand(breakGlassRevokeCmd)
	breakGlassCmd.AddCommand(breakGlassCleanupCmd)
	breakGlassCmd.Flags().StringVar(&bgReason, "reason", "", "Mandatory reason for the pass (required)")
	breakGlassCmd.Flags().DurationVar(&bgDuration, "duration", breakglass.DefaultDuration, "Pass validity period (max 12h)")
	breakGlassCmd.Flags().StringVar(&bgScope.Identity, "identity", "", "Only for this identity (\"unknown\" for unrecognized actors)")
	breakGlassCmd.Flags().StringVar(&bgScope.Slot, "slot", "", "Only on this slot")
	breakGlassCmd.Flags().StringVar(&bgScope.Action, "action", "", "Only for this action")
	breakGlassCleanupCmd.Flags().DurationVar(&bgCleanup, "older-than", 7*24*time.Hour, "Remove spent passes older than this")
}

var breakGlassCmd = &cobra.Command{
	Use:   "break-glass",
	Short: "Issue a single-use pass that overrides one denied decision",
	Long: "Creates a time-limited, single-use pass. The next denied observation it\n" +
		"covers is granted instead and no confrontation starts. Trust profiles\n" +
		"are not changed.",
	RunE: runBreakGlassCreate,
}

var breakGlassListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all passes",
	RunE:  runBreakGlassList,
}

var breakGlassRevokeCmd = &cobra.Command{
	Use:   "revoke <pass-id>",
	Short: "Revoke a pass",
	Args:  cobra.ExactArgs(1),
	RunE:  runBreakGlassRevoke,
}

var breakGlassCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete spent and expired passes",
	RunE:  runBreakGlassCleanup,
}

func openPasses() (*breakglass.Store, error) {
	cfg, err := loadConfigOnly()
	if err != nil {
		return nil, err
	}
	dir := cfg.PassDir()
	if dir == "" {
		return nil, fmt.Errorf("break-glass passes are disabled in config")
	}
	store, err := breakglass.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open pass store: %w", err)
	}
	return store, nil
}

func runBreakGlassCreate(cmd *cobra.Command, args []string) error {
	if bgReason == "" {
		return fmt.Errorf("--reason is required")
	}
	store, err := openPasses()
	if err != nil {
		return err
	}

	token, err := store.Create(bgScope, bgReason, bgDuration)
	if err != nil {
		return err
	}

	fmt.Printf("Break-glass pass issued: %s\n", token.ID)
	fmt.Printf("Scope:   %s\n", scopeLabel(token.Scope))
	fmt.Printf("Reason:  %s\n", token.Reason)
	fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("This pass grants ONE denied observation, then is spent.")
	return nil
}

func runBreakGlassList(cmd *cobra.Command, args []string) error {
	store, err := openPasses()
	if err != nil {
		return err
	}
	tokens, err := store.List()
	if err != nil {
		return err
	}
	fmt.Print(formatPasses(tokens, time.Now()))
	return nil
}

func formatPasses(tokens []breakglass.Token, now time.Time) string {
	if len(tokens) == 0 {
		return "No break-glass passes.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-9s %-28s %-30s %-25s\n", "ID", "STATUS", "SCOPE", "REASON", "EXPIRES")
	for _, t := range tokens {
		status := "active"
		switch {
		case t.UsedAt != nil:
			status = "used"
		case t.RevokedAt != nil:
			status = "revoked"
		case !t.IsActive(now):
			status = "expired"
		}

		reason := t.Reason
		if len(reason) > 28 {
			reason = reason[:28] + ".."
		}
		fmt.Fprintf(&b, "%-20s %-9s %-28s %-30s %-25s\n",
			t.ID, status, scopeLabel(t.Scope), reason, t.ExpiresAt.Format(time.RFC3339))
	}
	return b.String()
}

func scopeLabel(s breakglass.Scope) string {
	var parts []string
	if s.Identity != "" {
		parts = append(parts, "identity="+s.Identity)
	}
	if s.Slot != "" {
		parts = append(parts, "slot="+s.Slot)
	}
	if s.Action != "" {
		parts = append(parts, "action="+s.Action)
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

func runBreakGlassRevoke(cmd *cobra.Command, args []string) error {
	store, err := openPasses()
	if err != nil {
		return err
	}
	if err := store.Revoke(args[0]); err != nil {
		return err
	}
	fmt.Printf("Revoked pass %s\n", args[0])
	return nil
}

func runBreakGlassCleanup(cmd *cobra.Command, args []string) error {
	store, err := openPasses()
	if err != nil {
		return err
	}
	n, err := store.Cleanup(bgCleanup)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d passes\n", n)
	return nil
}
