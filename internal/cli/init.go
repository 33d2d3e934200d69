package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/roomguard/internal/config"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long: `Creates ~/.roomguard/ (or the directory of --config) with a commented
config.yaml, the profile store directory and the inbox directory.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	configDir := filepath.Dir(path)

	var created []string
	for _, dir := range []string{configDir, filepath.Join(configDir, "profiles"), filepath.Join(configDir, "inbox")} {
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
		created = append(created, dir+string(filepath.Separator))
	}

	if wrote, err := writeIfMissing(path, config.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, path)
	}

	fmt.Println("roomguard init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, p := range created {
			fmt.Printf("  %s\n", p)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Enroll a resident:")
	fmt.Println("  roomguard profile enroll alice --name Alice --tier high")
	fmt.Println()
	fmt.Println("Start the guard:")
	fmt.Println("  roomguard serve")
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
