package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spacewatch/internal/app"
)

var tickAt string

var tickCmd = &cobra.Command{
	Use:       "tick [delivery|alerts|record]",
	Short:     "Run one pass of a periodic task",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"delivery", "alerts", "record"},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.TickOptions{Name: args[0]}
		if tickAt != "" {
			at, err := time.Parse(time.RFC3339, tickAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			opts.At = at
		}
		return getApp().Tick(cmd.Context(), opts)
	},
}

func init() {
	tickCmd.Flags().StringVar(&tickAt, "at", "", "Wall-clock time for the delivery tick (RFC3339, defaults to now)")
}
