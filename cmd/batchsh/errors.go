// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/invowk/batchsh/internal/issue"
	"github.com/invowk/batchsh/internal/props"
	"github.com/invowk/batchsh/internal/scripting"
	"github.com/invowk/batchsh/internal/sshconn"
	"github.com/invowk/batchsh/pkg/job"
)

// commandNotFound is the exit code shells report for a missing executable.
const commandNotFound = 127

// describe turns err into an actionable error for op, linking the issue
// guide that explains the failure.
func describe(op string, err error) *issue.ActionableError {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae
	}

	c := issue.NewErrorContext().WithOperation(op).Wrap(err)

	var (
		keyErr   *knownhosts.KeyError
		execErr  *scripting.ExecutionError
		queueErr *job.NoSuchQueueError
		dirErr   *scripting.InvalidWorkingDirectoryError
	)
	switch {
	case errors.As(err, &keyErr):
		c.WithIssue(issue.HostKeyRejectedId).
			WithSuggestion("Add the host key to ~/.ssh/known_hosts, e.g. with ssh-keyscan").
			WithSuggestion("Set batchsh.ssh.strict.host.key.checking to false for throwaway hosts only")
	case errors.Is(err, sshconn.ErrNoAuthMethod), strings.Contains(err.Error(), "unable to authenticate"):
		c.WithIssue(issue.AuthenticationFailedId).
			WithSuggestion("Pass --key with a private key the target accepts").
			WithSuggestion("Pass --password-env naming a variable that holds the password")
	case errors.As(err, &execErr) && execErr.ExitCode == commandNotFound:
		c.WithIssue(issue.SchedulerToolNotFoundId).
			WithResource(execErr.Executable).
			WithSuggestion("Check that the Slurm client tools are on the PATH of the target")
	case errors.As(err, &execErr):
		c.WithIssue(issue.CommandFailedId).
			WithResource(execErr.Executable).
			WithSuggestion("Run with --verbose to see the full command output")
	case errors.As(err, &queueErr):
		c.WithIssue(issue.UnknownQueueId).
			WithResource(strings.Join(queueErr.Queues, ", ")).
			WithSuggestion("Run 'batchsh slurm queues' to list the partitions of the cluster")
	case errors.As(err, &dirErr):
		c.WithIssue(issue.InvalidWorkingDirectoryId).
			WithResource(dirErr.Path).
			WithSuggestion("Relative directories resolve against the home directory on the target")
	case errors.Is(err, props.ErrUnknownProperty), errors.Is(err, props.ErrInvalidProperty):
		c.WithIssue(issue.InvalidPropertyId).
			WithSuggestion("Check the properties section of the configuration file")
	case errors.Is(err, job.ErrInvalidIdentifier), errors.Is(err, job.ErrNoSuchJob):
		c.WithIssue(issue.InvalidJobIdId).
			WithSuggestion("Use the id printed by 'batchsh slurm submit'")
	case errors.Is(err, scripting.ErrConstruction):
		c.WithIssue(issue.ConnectionFailedId).
			WithSuggestion("Check --target and that the host is reachable")
	}
	return c.Build()
}

// renderError writes ae to w. Verbose output adds the error chain and the
// issue guide.
func renderError(w io.Writer, ae *issue.ActionableError, verbose bool) {
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+ae.Format(verbose))
	if !verbose {
		return
	}
	if guide := ae.Guide(); guide != nil {
		rendered, err := guide.Render("dark")
		if err != nil {
			fmt.Fprintln(w, WarningStyle.Render("Warning: ")+"failed to render issue guide: "+err.Error())
			return
		}
		fmt.Fprint(w, rendered)
	}
}

// fail renders err for op and returns the ExitError that ends the command.
func (a *App) fail(cmd *cobra.Command, op string, err error) error {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return exitErr
	}

	ae := describe(op, err)
	renderError(a.stderr, ae, a.flags.verbose)

	if exitErr != nil {
		return &ExitError{Code: exitErr.Code, Err: ae}
	}
	return &ExitError{Code: 1, Err: ae}
}
