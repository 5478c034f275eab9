package cli

import (
	"github.com/spf13/cobra"
)

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <plan.md>",
		Short: "Resume the latest interrupted run for a plan",
		Long: `Resume the latest active run for a plan file.

The run picks up at the phase it stopped in. Steps whose results are
already recorded are skipped, so crashed or interrupted runs never pay
twice for completed agent work.

Example:
  planloop resume ./plans/feature.md --phases 3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(opts, args[0], cmd, true)
		},
	}

	addRunFlags(cmd, opts)
	return cmd
}
