// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/batchsh/internal/adaptors/slurm"
	"github.com/invowk/batchsh/internal/metrics"
	"github.com/invowk/batchsh/pkg/job"
)

// waitTimedOut is the exit code of `slurm wait` when the deadline passes
// first.
const waitTimedOut = 2

type (
	submitOptions struct {
		queue   string
		workdir string
		name    string
		minutes int
		tasks   int
		env     map[string]string
	}

	waitOptions struct {
		timeout     time.Duration
		running     bool
		metricsAddr string
	}
)

func newSlurmCommand(app *App) *cobra.Command {
	slurmCmd := &cobra.Command{
		Use:   "slurm",
		Short: "Submit and track Slurm jobs",
		Long: `Submit and track Slurm jobs.

The Slurm client tools (sbatch, squeue, sacct, sinfo, scancel) run on the
target: the local host, or a login node when --target names a remote host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	slurmCmd.AddCommand(
		newSlurmQueuesCommand(app),
		newSlurmSubmitCommand(app),
		newSlurmStatusCommand(app),
		newSlurmWaitCommand(app),
		newSlurmCancelCommand(app),
	)
	return slurmCmd
}

func newSlurmQueuesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List the partitions of the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, _ *Session) error {
				names, err := sched.QueueNames(cmd.Context())
				if err != nil {
					return err
				}
				def, err := sched.DefaultQueueName(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range names {
					if name == def {
						fmt.Fprintf(app.stdout, "%s %s\n", CmdStyle.Render(name), SubtitleStyle.Render("(default)"))
						continue
					}
					fmt.Fprintln(app.stdout, CmdStyle.Render(name))
				}
				return nil
			})
			if err != nil {
				return app.fail(cmd, "list queues", err)
			}
			return nil
		},
	}
}

func newSlurmSubmitCommand(app *App) *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit [flags] -- <executable> [args...]",
		Short: "Submit a batch job",
		Example: `  batchsh slurm submit --queue batch --time 30 -- ./simulate.sh input.dat
  batchsh slurm submit --workdir runs/42 --env OMP_NUM_THREADS=8 -- ./solver`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc := job.Description{
				Queue:             opts.queue,
				Executable:        args[0],
				Arguments:         args[1:],
				WorkingDirectory:  opts.workdir,
				Environment:       opts.env,
				Name:              opts.name,
				MaxRuntimeMinutes: opts.minutes,
				Tasks:             opts.tasks,
			}
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, _ *Session) error {
				id, err := sched.Submit(cmd.Context(), desc)
				if err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, id)
				return nil
			})
			if err != nil {
				return app.fail(cmd, "submit job", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.queue, "queue", "q", "", "partition to submit to (default: the cluster default)")
	cmd.Flags().StringVarP(&opts.workdir, "workdir", "w", "", "working directory, relative to the home directory on the target")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "job name")
	cmd.Flags().IntVar(&opts.minutes, "time", 0, "wall time limit in minutes")
	cmd.Flags().IntVar(&opts.tasks, "tasks", 0, "number of tasks")
	cmd.Flags().StringToStringVarP(&opts.env, "env", "e", nil, "environment variable for the job (KEY=VALUE, repeatable)")
	return cmd
}

func newSlurmStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, _ *Session) error {
				st, err := sched.JobStatus(cmd.Context(), job.Identifier(args[0]))
				if err != nil {
					return err
				}
				printStatus(app.stdout, st)
				return nil
			})
			if err != nil {
				return app.fail(cmd, "query job "+args[0], err)
			}
			return nil
		},
	}
}

func newSlurmWaitCommand(app *App) *cobra.Command {
	var opts waitOptions

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait for a job to finish",
		Long: `Wait for a job to finish, or with --running until it starts.

A zero --timeout waits forever. When the timeout passes first the last
status is printed and batchsh exits with status 2. --metrics-addr serves
Prometheus metrics about the status polling while waiting.`,
		Example: `  batchsh slurm wait 4217 --timeout 1h
  batchsh slurm wait 4217 --running --metrics-addr 127.0.0.1:9464`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := job.Identifier(args[0])
			var reached bool
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, s *Session) error {
				if opts.metricsAddr != "" {
					stop, err := serveMetrics(cmd.Context(), s, opts.metricsAddr)
					if err != nil {
						return err
					}
					defer stop()
				}

				var (
					st  job.Status
					err error
				)
				if opts.running {
					st, err = sched.WaitUntilRunning(cmd.Context(), id, opts.timeout)
					reached = st.IsRunning() || st.IsDone()
				} else {
					st, err = sched.WaitUntilDone(cmd.Context(), id, opts.timeout)
					reached = st.IsDone()
				}
				if err != nil {
					return err
				}
				printStatus(app.stdout, st)
				return nil
			})
			if err != nil {
				return app.fail(cmd, "wait for job "+args[0], err)
			}
			if !reached {
				fmt.Fprintln(app.stderr, WarningStyle.Render("Warning: ")+"stopped waiting before the job got there")
				cmd.SilenceErrors = true
				return &ExitError{Code: waitTimedOut}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&opts.running, "running", false, "return as soon as the job runs")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while waiting")
	return cmd
}

func newSlurmCancelCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.withScheduler(cmd.Context(), func(sched *slurm.Scheduler, _ *Session) error {
				st, err := sched.Cancel(cmd.Context(), job.Identifier(args[0]))
				if err != nil {
					return err
				}
				printStatus(app.stdout, st)
				return nil
			})
			if err != nil {
				return app.fail(cmd, "cancel job "+args[0], err)
			}
			return nil
		},
	}
}

// serveMetrics starts a metrics server for the session registry and
// returns a function stopping it.
func serveMetrics(ctx context.Context, s *Session, addr string) (func(), error) {
	srv := metrics.NewServer(s.Registry, s.Logger.WithPrefix("metrics"))
	if err := srv.Start(ctx, addr); err != nil {
		return nil, err
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Logger.Warn("failed to stop metrics server", "error", err)
		}
	}, nil
}

// printStatus writes one styled status line.
func printStatus(w io.Writer, st job.Status) {
	var phase string
	switch st.Phase() {
	case job.PhaseDone:
		if st.HasError() {
			phase = ErrorStyle.Render(st.Phase().String())
		} else {
			phase = SuccessStyle.Render(st.Phase().String())
		}
	case job.PhaseRunning:
		phase = CmdStyle.Render(st.Phase().String())
	default:
		phase = WarningStyle.Render(st.Phase().String())
	}

	fmt.Fprintf(w, "%s %s %s", TitleStyle.Render(string(st.Identifier)), phase, st.State)
	if st.ExitCode != nil {
		fmt.Fprintf(w, " exit=%s", st.ExitCode)
	}
	if st.Err != nil {
		fmt.Fprintf(w, " %s", SubtitleStyle.Render(st.Err.Error()))
	}
	fmt.Fprintln(w)
}
