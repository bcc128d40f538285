package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spacewatch/internal/version"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	// Skips config loading so the binary can report its version anywhere.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "spacewatch %s\ncommit: %s\nbuilt: %s\n", version.Version, version.Commit, version.BuildDate)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
}
