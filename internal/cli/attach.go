package cli

import (
	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/config"
	"github.com/planloop/planloop/internal/runstore"
	"github.com/planloop/planloop/internal/tui"
)

// NewAttachCommand creates the attach command. It opens a read-only console
// over the run database; runs keep going if the console exits.
func NewAttachCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Open the interactive run console",
		Long: `Open the interactive run console in this terminal.

The console reads the run database and follows active runs as they
progress. Quitting the console never affects the runs it was watching.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(nil)
			if err != nil {
				return WrapExitError(ExitCommandError, "loading configuration", err)
			}
			store, err := runstore.Open(cfg.DBPath())
			if err != nil {
				return WrapExitError(ExitCommandError, "opening run database", err)
			}
			defer store.Close()

			if err := tui.Run(store); err != nil {
				return WrapExitError(ExitFailure, "console terminated", err)
			}
			return nil
		},
	}
}
