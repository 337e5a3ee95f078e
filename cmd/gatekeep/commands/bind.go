package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mquinn/gatekeep/internal/config"
	"github.com/mquinn/gatekeep/internal/session"
	"github.com/spf13/cobra"
)

func NewBindCmd() *cobra.Command {
	var (
		channelName string
		chatID      string
		operatorID  string
	)
	cmd := &cobra.Command{
		Use:   "bind [path]",
		Short: "Bind a project directory to a chat destination",
		Long: `Binds a project directory to the channel and chat that should receive
its authorization cards. Without a path the current directory is bound.
Requests from nested directories inherit the closest binding.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" || path == "." {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				path = cwd
			}

			store := session.NewStore(filepath.Join(config.StateDir(), "bindings.json"))
			if err := store.Load(); err != nil {
				return fmt.Errorf("load session bindings: %w", err)
			}

			if err := store.Bind(session.Binding{
				ProjectPath: path,
				Channel:     channelName,
				ChatID:      chatID,
				OperatorID:  operatorID,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bound %s -> %s/%s\n", path, channelName, chatID)
			return nil
		},
	}
	cmd.Flags().StringVar(&channelName, "channel", "telegram", "Delivery channel (telegram|slack)")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat or channel id on the platform")
	cmd.Flags().StringVar(&operatorID, "operator", "", "Operator id to mention in escalations")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}
