package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/roomguard/internal/audit"
)

var (
	replayLog     string
	replaySession string
	replaySlot    string
	replayFrom    string
	replayTo      string
	replayFormat  string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditReplayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to audit log (default from config)")
	auditReplayCmd.Flags().StringVar(&replaySession, "session", "", "Only entries of this session ID")
	auditReplayCmd.Flags().StringVar(&replaySlot, "slot", "", "Only entries of this slot")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and replaying the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Render a timeline of guard decisions and sessions",
	RunE:  runAuditReplay,
}

func auditLogPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cfg, err := loadConfigOnly()
	if err != nil {
		return "", err
	}
	if path := cfg.AuditPath(); path != "" {
		return path, nil
	}
	return audit.DefaultPath(), nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	var explicit string
	if len(args) == 1 {
		explicit = args[0]
	}
	path, err := auditLogPath(explicit)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditLogPath(replayLog)
	if err != nil {
		return err
	}
	filter := audit.ReplayFilter{SessionID: replaySession, Slot: replaySlot}
	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}
	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}
	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}
	return nil
}
