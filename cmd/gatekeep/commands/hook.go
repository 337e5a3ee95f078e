package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mquinn/gatekeep/internal/config"
	"github.com/mquinn/gatekeep/internal/hookclient"
	"github.com/spf13/cobra"
)

var hookFormat string

func NewHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Run as a pre-tool-use hook: read the event from stdin, wait for a decision",
		Long: `Reads a tool-use event from stdin, asks the Gatekeep server for an
authorization decision, and writes the decision JSON to stdout. On any
fatal error nothing is written, so the caller falls back to its own
interactive prompt.`,
		RunE: runHook,
	}
	cmd.Flags().StringVar(&hookFormat, "format", string(hookclient.FormatFlat), "Output shape (flat|nested)")
	return cmd
}

func runHook(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("hook config load failed", "error", err)
		return nil
	}
	client := hookclient.New(cfg.Authorization, cfg.Server.Token)
	return runHookWith(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), client, hookclient.Format(hookFormat))
}

// runHookWith is the testable core. It never returns an error: silence
// on stdout is the fallback contract for every failure.
func runHookWith(ctx context.Context, stdin io.Reader, stdout io.Writer, client *hookclient.Client, format hookclient.Format) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var input hookclient.HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil {
		slog.Error("hook input decode failed", "error", err)
		return nil
	}

	decision, err := client.Authorize(ctx, input)
	if err != nil {
		slog.Error("authorization attempt failed", "tool", input.ToolName, "error", err)
		return nil
	}

	encoded, err := hookclient.Encode(format, decision)
	if err != nil {
		slog.Error("decision encode failed", "format", format, "error", err)
		return nil
	}

	fmt.Fprintln(stdout, string(encoded))
	return nil
}
