package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/roomguard/internal/profilestore"
	"github.com/ppiankov/roomguard/internal/trust"
)

var (
	profileJSON bool
	enrollName  string
	enrollTier  string
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.PersistentFlags().BoolVar(&profileJSON, "json", false, "Print JSON")
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileEnrollCmd)
	profileEnrollCmd.Flags().StringVar(&enrollName, "name", "", "Display name")
	profileEnrollCmd.Flags().StringVar(&enrollTier, "tier", "medium", "Enrolled tier (low, medium, high, maximum)")
	profileCmd.AddCommand(profileRemoveCmd)
	profileCmd.AddCommand(profileDecayCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage trust profiles",
	Long:  "List, inspect, enroll and remove trust profiles in the configured store.",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trust profiles",
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Show one trust profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileEnrollCmd = &cobra.Command{
	Use:   "enroll <identity>",
	Short: "Create or raise a profile at a tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileEnroll,
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <identity>",
	Short: "Delete a trust profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileRemove,
}

var profileDecayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply idle decay to every profile now",
	RunE:  runProfileDecay,
}

// openEngine opens the configured store. The returned func closes it.
func openEngine(ctx context.Context) (*trust.Engine, func(), error) {
	cfg, err := loadConfigOnly()
	if err != nil {
		return nil, nil, err
	}
	store, err := profilestore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open profile store: %w", err)
	}
	engine, err := trust.NewEngine(store, cfg.Trust)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return engine, func() { store.Close() }, nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	engine, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	summaries, err := engine.Summaries(ctx, time.Now())
	if err != nil {
		return err
	}
	if profileJSON {
		return printJSON(summaries)
	}
	fmt.Print(formatProfiles(summaries))
	return nil
}

func formatProfiles(summaries []trust.Summary) string {
	if len(summaries) == 0 {
		return "No profiles.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tNAME\tTIER\tENROLLED\tSCORE\tSEEN\tLAST SEEN")
	for _, s := range summaries {
		last := "never"
		if !s.LastSeen.IsZero() {
			last = s.IdleFor.Round(time.Minute).String() + " ago"
		}
		name := s.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.3f\t%d\t%s\n",
			s.Identity, name, s.Tier, s.EnrolledTier, s.Score, s.Interactions, last)
	}
	w.Flush()
	return b.String()
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	engine, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	s, err := engine.Summary(ctx, args[0], time.Now())
	if err != nil {
		return err
	}
	if profileJSON {
		return printJSON(s)
	}
	fmt.Printf("Identity:     %s\n", s.Identity)
	if s.Name != "" {
		fmt.Printf("Name:         %s\n", s.Name)
	}
	fmt.Printf("Tier:         %s (enrolled %s)\n", s.Tier, s.EnrolledTier)
	fmt.Printf("Score:        %.3f\n", s.Score)
	fmt.Printf("Interactions: %d (%d successful, %.0f%%)\n", s.Interactions, s.Successful, s.SuccessRate*100)
	fmt.Printf("Recent conf:  %.3f over %d samples\n", s.RecentConfidence, s.HistoryLen)
	if !s.LastSeen.IsZero() {
		fmt.Printf("Last seen:    %s (%s ago)\n", s.LastSeen.Format(time.RFC3339), s.IdleFor.Round(time.Second))
	}
	return nil
}

func runProfileEnroll(cmd *cobra.Command, args []string) error {
	tier, err := trust.ParseTier(enrollTier)
	if err != nil {
		return err
	}
	ctx := context.Background()
	engine, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := engine.Enroll(ctx, args[0], enrollName, tier, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Enrolled %s at %s (score %.3f)\n", p.Identity, p.EnrolledTier, p.CurrentScore)
	return nil
}

func runProfileRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	engine, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := engine.Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runProfileDecay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	engine, closeStore, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := engine.DecaySweep(ctx, time.Now())
	if err != nil {
		return err
	}
	if profileJSON {
		return printJSON(report)
	}
	fmt.Printf("Scanned %d profiles: %d decayed, %d reset\n", report.Scanned, report.Decayed, report.Reset)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
