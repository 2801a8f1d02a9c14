// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "batchsh",
		Short: "Drive batch schedulers over local and SSH shells",
		Long: TitleStyle.Render("batchsh") + SubtitleStyle.Render(" - Drive batch schedulers over local and SSH shells") + `

batchsh runs scheduler tools such as sbatch and squeue on the local host
or on a login node reached over SSH, and turns their output into job
identifiers and statuses.

` + SubtitleStyle.Render("Examples:") + `
  batchsh slurm queues --target login.hpc.example.org
  batchsh slurm submit --queue batch -- ./simulate.sh input.dat
  batchsh slurm wait 4217 --timeout 1h
  batchsh exec -- uname -a
  batchsh config show`,
		SilenceUsage: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	pf := root.PersistentFlags()
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVar(&app.flags.configPath, "config", "", "config file (default is $HOME/.config/batchsh/config.cue)")
	pf.StringVarP(&app.flags.target, "target", "t", "", `location of the scheduler, "local" or [ssh://]host[:port]`)
	pf.StringVarP(&app.flags.user, "user", "u", "", "login name on the target")
	pf.StringVar(&app.flags.keyFile, "key", "", "private key file for SSH authentication")
	pf.StringVar(&app.flags.passwordEnv, "password-env", "", "environment variable holding the SSH password")

	root.AddCommand(
		newExecCommand(app),
		newSlurmCommand(app),
		newCheckCommand(app),
		newServeCommand(app),
		newConfigCommand(app),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the command's exit code.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}
