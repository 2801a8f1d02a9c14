// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/batchsh/internal/adaptors/slurm"
)

func newCheckCommand(app *App) *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate job preconditions on the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	checkCmd.AddCommand(&cobra.Command{
		Use:   "workdir <path>",
		Short: "Check that a working directory exists",
		Long: `Check that a working directory exists on the target.

Paths starting with "/" are absolute; anything else is resolved against
the entry directory of the target (the home directory over SSH, the
current directory locally).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, _ *Session) error {
				if err := sched.Core().CheckWorkingDirectory(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓"), args[0])
				return nil
			})
			if err != nil {
				return app.fail(cmd, "check working directory", err)
			}
			return nil
		},
	})

	checkCmd.AddCommand(&cobra.Command{
		Use:   "queues <name>...",
		Short: "Check that queues exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, _ *Session) error {
				if err := sched.Core().CheckQueueNames(cmd.Context(), sched, args...); err != nil {
					return err
				}
				for _, name := range args {
					fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓"), name)
				}
				return nil
			})
			if err != nil {
				return app.fail(cmd, "check queues", err)
			}
			return nil
		},
	})

	return checkCmd
}
