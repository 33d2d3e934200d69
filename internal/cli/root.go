// Package cli implements the roomguard command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/roomguard/internal/config"
)

var (
	configPath string
	serverAddr string
	verbose    bool

	logger = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default ~/.roomguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "roomguard server address (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "roomguard",
	Short: "Room guard: trust-scored recognition with escalating confrontation",
	Long: "Decides whether a recognized person may enter a guarded room and talks to\n" +
		"anyone who may not, escalating from a polite inquiry to an alarm.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	return config.LoadWithHash(configPath)
}

func loadConfigOnly() (*config.Config, error) {
	return config.Load(configPath)
}

// resolveServer picks --server, then the configured listen address.
func resolveServer() (string, error) {
	if serverAddr != "" {
		return serverAddr, nil
	}
	cfg, err := loadConfigOnly()
	if err != nil {
		return "", err
	}
	return cfg.Server.Listen, nil
}
