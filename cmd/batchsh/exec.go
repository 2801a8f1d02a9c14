// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/invowk/batchsh/internal/adaptors/slurm"
)

type execOptions struct {
	stdin       string
	unchecked   bool
	interactive bool
}

func newExecCommand(app *App) *cobra.Command {
	var opts execOptions

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <executable> [args...]",
		Short: "Run a command on the target",
		Long: `Run a command on the target and print its standard output.

By default the command must exit with status 0 and print nothing on
standard error; anything else is reported as a failure that includes the
complete output. --unchecked passes the output and exit status through
instead. --interactive connects the terminal's standard input to the
command.`,
		Example: `  batchsh exec -- uname -a
  batchsh exec --target login.hpc.example.org --stdin 'hello' -- cat
  batchsh exec --unchecked -- squeue --me`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, _ *Session) error {
				switch {
				case opts.interactive:
					return app.execInteractive(cmd.Context(), sched, args[0], args[1:])
				case opts.unchecked:
					return app.execUnchecked(cmd.Context(), sched, opts.stdin, args[0], args[1:])
				default:
					out, err := sched.Core().RunCheckedCommand(cmd.Context(), opts.stdin, args[0], args[1:]...)
					if err != nil {
						return err
					}
					fmt.Fprint(app.stdout, out)
					return nil
				}
			})
			if err != nil {
				return app.fail(cmd, "run "+args[0], err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.stdin, "stdin", "", "text fed to the command's standard input")
	cmd.Flags().BoolVar(&opts.unchecked, "unchecked", false, "pass output and exit status through instead of failing")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "stream standard input to the command")
	cmd.MarkFlagsMutuallyExclusive("stdin", "interactive")
	cmd.MarkFlagsMutuallyExclusive("unchecked", "interactive")
	return cmd
}

// execUnchecked copies the command's output and returns its exit status
// as an ExitError.
func (a *App) execUnchecked(ctx context.Context, sched *slurm.Scheduler, stdin, exe string, args []string) error {
	r, err := sched.Core().RunCommand(ctx, stdin, exe, args...)
	if err != nil {
		return err
	}
	res, err := r.Result()
	if err != nil {
		return err
	}
	fmt.Fprint(a.stdout, res.Stdout)
	fmt.Fprint(a.stderr, res.Stderr)
	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}

// execInteractive streams stdin to the command until it exits.
func (a *App) execInteractive(ctx context.Context, sched *slurm.Scheduler, exe string, args []string) error {
	streams, err := sched.Core().StartInteractiveCommand(ctx, exe, args...)
	if err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(streams.Stdin, a.stdin)
		_ = streams.Stdin.Close()
	}()

	var (
		wg             sync.WaitGroup
		outErr, errErr error
	)
	wg.Add(2)
	go func() { defer wg.Done(); _, outErr = io.Copy(a.stdout, streams.Stdout) }()
	go func() { defer wg.Done(); _, errErr = io.Copy(a.stderr, streams.Stderr) }()
	wg.Wait()
	if err := errors.Join(outErr, errErr); err != nil {
		return fmt.Errorf("failed to copy output of %s: %w", exe, err)
	}

	st, err := sched.Core().Substrate().WaitUntilDone(ctx, streams.Identifier, 0)
	if err != nil {
		return err
	}
	if st.Err != nil {
		return st.Err
	}
	if st.ExitCode != nil && *st.ExitCode != 0 {
		return &ExitError{Code: *st.ExitCode}
	}
	return nil
}
