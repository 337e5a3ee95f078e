package commands

import (
	"github.com/mquinn/gatekeep/internal/config"
	"github.com/spf13/cobra"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "Gatekeep - remote authorization for local coding agents",
		Long:  `Gatekeep bridges a local coding agent with your chat platform, so sensitive tool calls wait for an approval tap on your phone.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return configureLogger(config.DefaultConfig(), logLevelOverride, false)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// The hook writes protocol JSON on stdout; keep its stderr
			// quiet unless a log file is configured.
			return configureLogger(cfg, logLevelOverride, cmd.Name() == "hook")
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewServeCmd(),
		NewHookCmd(),
		NewRulesCmd(),
		NewBindCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return cmd
}
