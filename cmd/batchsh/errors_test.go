// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/invowk/batchsh/internal/issue"
	"github.com/invowk/batchsh/internal/props"
	"github.com/invowk/batchsh/internal/scripting"
	"github.com/invowk/batchsh/internal/sshconn"
	"github.com/invowk/batchsh/pkg/job"
)

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantIssue issue.Id
		wantRes   string
	}{
		{
			name:      "no auth method",
			err:       fmt.Errorf("dial: %w", sshconn.ErrNoAuthMethod),
			wantIssue: issue.AuthenticationFailedId,
		},
		{
			name:      "rejected credentials",
			err:       errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"),
			wantIssue: issue.AuthenticationFailedId,
		},
		{
			name:      "missing tool",
			err:       &scripting.ExecutionError{Adaptor: "slurm", Executable: "sbatch", ExitCode: 127},
			wantIssue: issue.SchedulerToolNotFoundId,
			wantRes:   "sbatch",
		},
		{
			name:      "failed command",
			err:       &scripting.ExecutionError{Adaptor: "slurm", Executable: "scancel", ExitCode: 1},
			wantIssue: issue.CommandFailedId,
			wantRes:   "scancel",
		},
		{
			name:      "unknown queue",
			err:       &job.NoSuchQueueError{Queues: []string{"gpu", "big"}},
			wantIssue: issue.UnknownQueueId,
			wantRes:   "gpu, big",
		},
		{
			name:      "missing working directory",
			err:       &scripting.InvalidWorkingDirectoryError{Adaptor: "slurm", Path: "/home/alice/x"},
			wantIssue: issue.InvalidWorkingDirectoryId,
			wantRes:   "/home/alice/x",
		},
		{
			name:      "unknown property",
			err:       fmt.Errorf("slurm: %w", props.ErrUnknownProperty),
			wantIssue: issue.InvalidPropertyId,
		},
		{
			name:      "bad job id",
			err:       fmt.Errorf("%w: %q", job.ErrInvalidIdentifier, "x y"),
			wantIssue: issue.InvalidJobIdId,
		},
		{
			name:      "construction",
			err:       fmt.Errorf("%w: dial tcp: connection refused", scripting.ErrConstruction),
			wantIssue: issue.ConnectionFailedId,
		},
		{
			name: "unclassified",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ae := describe("do things", tt.err)
			if ae.Issue != tt.wantIssue {
				t.Errorf("Issue = %v, want %v", ae.Issue, tt.wantIssue)
			}
			if ae.Resource != tt.wantRes {
				t.Errorf("Resource = %q, want %q", ae.Resource, tt.wantRes)
			}
			if !errors.Is(ae, tt.err) {
				t.Errorf("describe() lost the cause %v", tt.err)
			}
			if tt.wantIssue != 0 && !ae.HasSuggestions() {
				t.Error("classified error has no suggestions")
			}
		})
	}
}

func TestDescribe_KeepsActionableError(t *testing.T) {
	t.Parallel()

	in := issue.NewErrorContext().WithOperation("read password").WithIssue(issue.AuthenticationFailedId).Build()
	if got := describe("other", fmt.Errorf("wrapped: %w", in)); got != in {
		t.Errorf("describe() = %v, want the wrapped actionable error", got)
	}
}

func TestRenderError(t *testing.T) {
	t.Parallel()

	ae := describe("check queues", &job.NoSuchQueueError{Queues: []string{"gpu"}})

	var quiet bytes.Buffer
	renderError(&quiet, ae, false)
	out := quiet.String()
	for _, want := range []string{"Error:", "failed to check queues: gpu", "batchsh slurm queues"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderError() = %q, missing %q", out, want)
		}
	}
	if strings.Contains(out, "Error chain:") {
		t.Errorf("non-verbose output contains the error chain: %q", out)
	}

	var verbose bytes.Buffer
	renderError(&verbose, ae, true)
	if !strings.Contains(verbose.String(), "Error chain:") {
		t.Errorf("verbose output = %q, want error chain", verbose.String())
	}
	if verbose.Len() <= quiet.Len() {
		t.Error("verbose output does not include the issue guide")
	}
}
