package commands

import (
	"fmt"
	"runtime"

	"github.com/mquinn/gatekeep/internal/version"
	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gatekeep %s %s/%s\n", version.Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
