package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/roomguard/internal/api"
	"github.com/ppiankov/roomguard/internal/client"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/trust"
)

var (
	observeSlot       string
	observeConfidence float64
	observeAction     string
	observeJSON       bool

	saySlot string

	sessionsJSON   bool
	cancelReason   string
	startIdentity  string
	escalateReason string
)

func init() {
	rootCmd.AddCommand(observeCmd)
	observeCmd.Flags().StringVar(&observeSlot, "slot", "", "Camera slot (default \"default\")")
	observeCmd.Flags().Float64Var(&observeConfidence, "confidence", 0, "Recognition confidence in [0, 1]")
	observeCmd.Flags().StringVar(&observeAction, "action", "", "Guarded action (enter, unlock_door, disarm)")
	observeCmd.Flags().BoolVar(&observeJSON, "json", false, "Print the raw outcome as JSON")

	rootCmd.AddCommand(sayCmd)
	sayCmd.Flags().StringVar(&saySlot, "slot", "", "Camera slot the reply belongs to")

	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print sessions as JSON")
	sessionsCmd.AddCommand(sessionsCancelCmd)
	sessionsCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "End reason recorded on the session")
	sessionsCmd.AddCommand(sessionsStartCmd)
	sessionsStartCmd.Flags().StringVar(&startIdentity, "identity", "", "Identity being confronted, if known")
	sessionsCmd.AddCommand(sessionsEscalateCmd)
	sessionsEscalateCmd.Flags().StringVar(&escalateReason, "reason", "", "Reason recorded in the audit log")

	rootCmd.AddCommand(modeCmd)
}

var observeCmd = &cobra.Command{
	Use:   "observe <identity>",
	Short: "Submit a recognition event to a running guard",
	Long:  "Sends one observation to the server. Use \"unknown\" when nobody matched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runObserve,
}

var sayCmd = &cobra.Command{
	Use:   "say <text>...",
	Short: "Feed a transcribed reply to the session on a slot",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSay,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List running confrontation sessions",
	RunE:  runSessions,
}

var sessionsCancelCmd = &cobra.Command{
	Use:   "cancel <slot>",
	Short: "Cancel the session running on a slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsCancel,
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start <slot>",
	Short: "Start a confrontation on a slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsStart,
}

var sessionsEscalateCmd = &cobra.Command{
	Use:   "escalate <slot>",
	Short: "Raise the session on a slot one level",
	Long:  "Cuts the current listen window short and speaks the next prompt at the higher level. Fails at the last level.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsEscalate,
}

var modeCmd = &cobra.Command{
	Use:   "mode [on|off]",
	Short: "Show or change whether the guard confronts actors",
	Long:  "Without arguments prints the current mode. Switching off ends every running session.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMode,
}

func dial() (*client.Client, error) {
	addr, err := resolveServer()
	if err != nil {
		return nil, err
	}
	return client.New(addr)
}

func runObserve(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	out, err := c.Observe(cmd.Context(), api.ObserveRequest{
		Slot:       observeSlot,
		Identity:   args[0],
		Confidence: observeConfidence,
		Action:     observeAction,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if observeJSON {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(formatOutcome(out))
	return nil
}

func formatOutcome(out api.ObserveResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s: %s (requires %s)\n", out.Identity, out.Slot, strings.ToUpper(string(out.Decision)), out.Required)
	if out.Trust != nil {
		fmt.Fprintf(&b, "  tier %s, score %.3f (was %.3f)", out.Trust.Tier, out.Trust.Score, out.Trust.PriorScore)
		if out.Trust.Created {
			b.WriteString(", new profile")
		}
		if out.Trust.Duplicate {
			b.WriteString(", duplicate")
		}
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "  unknown actor, severity %s\n", out.Severity)
	}
	if out.Pass != "" {
		fmt.Fprintf(&b, "  granted by break-glass pass %s\n", out.Pass)
	}
	switch {
	case out.Started:
		fmt.Fprintf(&b, "  session %s started\n", out.SessionID)
	case out.Conflict:
		fmt.Fprintf(&b, "  session %s already running\n", out.SessionID)
	case out.Cancelled:
		b.WriteString("  running session cancelled\n")
	}
	return b.String()
}

func runSay(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	dropped, err := c.Transcript(cmd.Context(), saySlot, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if dropped {
		fmt.Fprintln(os.Stderr, "warning: reply queue full, oldest reply dropped")
	}
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if sessionsJSON {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("Guard %s. ", modeLabel(resp.Active))
	fmt.Print(formatSessions(resp.Sessions, time.Now()))
	return nil
}

func formatSessions(sessions []*escalation.Session, now time.Time) string {
	if len(sessions) == 0 {
		return "No active sessions.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d active session(s):\n\n", len(sessions))
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tSESSION\tIDENTITY\tLEVEL\tTURNS\tAGE")
	for _, s := range sessions {
		identity := s.Identity
		if identity == "" || trust.IsUnknown(identity) {
			identity = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			s.Slot, s.ID, identity, s.Level, s.MaxLevel, len(s.Turns), now.Sub(s.StartedAt).Round(time.Second))
	}
	w.Flush()
	return b.String()
}

func runSessionsCancel(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	ok, err := c.CancelSession(cmd.Context(), args[0], cancelReason)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no active session on slot %q", args[0])
	}
	fmt.Printf("Cancelled session on %s\n", args[0])
	return nil
}

func runSessionsEscalate(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.EscalateSession(cmd.Context(), args[0], escalateReason); err != nil {
		return err
	}
	fmt.Printf("Escalation requested on %s\n", args[0])
	return nil
}

func runSessionsStart(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.StartSession(cmd.Context(), args[0], startIdentity)
	if err != nil {
		return err
	}
	fmt.Printf("Started session %s on %s\n", s.ID, s.Slot)
	return nil
}

func runMode(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if len(args) == 0 {
		resp, err := c.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Guard %s\n", modeLabel(resp.Active))
		return nil
	}

	var active bool
	switch strings.ToLower(args[0]) {
	case "on", "active", "true":
		active = true
	case "off", "inactive", "false":
	default:
		return fmt.Errorf("unknown mode %q: use on or off", args[0])
	}
	resp, err := c.SetMode(cmd.Context(), active)
	if err != nil {
		return err
	}
	fmt.Printf("Guard %s", modeLabel(resp.Active))
	if resp.Cancelled > 0 {
		fmt.Printf(", %d session(s) ended", resp.Cancelled)
	}
	fmt.Println()
	return nil
}
