package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/roomguard/internal/scenario"
)

var (
	simFormat  string
	simVerbose bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
	simulateCmd.Flags().BoolVar(&simVerbose, "transcript", false, "Print every simulated turn")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>...",
	Short: "Run scripted scenarios against the configured guard",
	Long: "Runs each scenario file in-process with an in-memory store, fixed\n" +
		"phrases and scripted replies, using the trust, escalation and access\n" +
		"settings of the config file. Exits 1 if any step fails.",
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOnly()
	if err != nil {
		return err
	}
	opts := scenario.DefaultOptions()
	opts.Trust = cfg.Trust
	opts.Escalation = cfg.Escalation
	opts.Policy = cfg.Access
	opts.Logger = logger

	var results []*scenario.RunResult
	failed := false
	for _, path := range args {
		r, err := scenario.LoadAndRun(context.Background(), path, opts)
		if err != nil {
			return err
		}
		if r.Failed > 0 {
			failed = true
		}
		results = append(results, r)
	}

	switch simFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(scenario.FormatText(results, simVerbose))
	}

	if failed {
		os.Exit(1)
	}
	return nil
}
