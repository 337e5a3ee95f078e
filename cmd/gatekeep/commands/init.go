package commands

import (
	"fmt"
	"os"

	"github.com/mquinn/gatekeep/internal/config"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Gatekeep configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()

	dirs := []string{
		config.ConfigDir(),
		config.StateDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Gatekeep initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("State:  %s\n", config.StateDir())
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to enable a chat channel (telegram or slack)\n", configPath)
	fmt.Printf("2. Run 'gatekeep serve' to start the authorization server\n")
	fmt.Printf("3. Point your agent's pre-tool-use hook at 'gatekeep hook'\n")

	return nil
}
