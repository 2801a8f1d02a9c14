// SPDX-License-Identifier: MPL-2.0

package substrate

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invowk/batchsh/internal/poll"
	"github.com/invowk/batchsh/internal/props"
	"github.com/invowk/batchsh/pkg/job"
)

func newTestLocal(t *testing.T) Substrate {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("local substrate tests rely on /bin/sh")
	}
	sub, err := Create(SchemeLocal, "local", nil, map[string]string{LocalPollDelayProperty: "10"})
	if err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

type drained struct {
	stdout, stderr string
}

// drain writes stdin, closes it and reads both output streams to EOF.
func drain(t *testing.T, s *job.Streams, stdin string) drained {
	t.Helper()

	var (
		wg       sync.WaitGroup
		out, err []byte
	)
	wg.Add(2)
	go func() { defer wg.Done(); out, _ = io.ReadAll(s.Stdout) }()
	go func() { defer wg.Done(); err, _ = io.ReadAll(s.Stderr) }()
	if stdin != "" {
		if _, werr := io.WriteString(s.Stdin, stdin); werr != nil {
			t.Errorf("write stdin: %v", werr)
		}
	}
	_ = s.Stdin.Close()
	wg.Wait()
	return drained{stdout: string(out), stderr: string(err)}
}

func TestCreate_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Create("gridengine", "local", nil, nil); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("Create(unknown) error = %v, want ErrUnknownScheme", err)
	}
	if _, err := Create(SchemeLocal, "local", nil, map[string]string{LocalPollDelayProperty: "x"}); !errors.Is(err, props.ErrInvalidProperty) {
		t.Errorf("Create(bad delay) error = %v, want ErrInvalidProperty", err)
	}
	if _, err := Create(SchemeLocal, "local", nil, map[string]string{SSHPollDelayProperty: "100"}); !errors.Is(err, props.ErrUnknownProperty) {
		t.Errorf("Create(ssh prop on local) error = %v, want ErrUnknownProperty", err)
	}
}

func TestLocal_Identity(t *testing.T) {
	t.Parallel()

	sub := newTestLocal(t)
	if sub.Scheme() != SchemeLocal {
		t.Errorf("Scheme() = %q", sub.Scheme())
	}
	if sub.Location() != "local" {
		t.Errorf("Location() = %q", sub.Location())
	}
	if q := sub.QueueNames(); len(q) != 1 || q[0] != job.UnlimitedQueue {
		t.Errorf("QueueNames() = %v", q)
	}
}

func TestLocal_RunsCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		desc       job.Description
		stdin      string
		wantOut    string
		wantErr    string
		wantExit   int
		wantPrefix string
	}{
		{
			name:     "stdin echoed",
			desc:     job.Description{Queue: job.UnlimitedQueue, Executable: "cat"},
			stdin:    "hello\n",
			wantOut:  "hello\n",
			wantExit: 0,
		},
		{
			name:     "exit code and stderr",
			desc:     job.Description{Executable: "/bin/sh", Arguments: []string{"-c", "echo oops >&2; exit 3"}},
			wantErr:  "oops\n",
			wantExit: 3,
		},
		{
			name: "environment and working directory",
			desc: job.Description{
				Executable:       "/bin/sh",
				Arguments:        []string{"-c", `printf '%s:%s' "$GREETING" "$(pwd)"`},
				WorkingDirectory: "/",
				Environment:      map[string]string{"GREETING": "hi there"},
			},
			wantOut: "hi there:/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sub := newTestLocal(t)
			streams, err := sub.SubmitInteractive(t.Context(), tt.desc)
			if err != nil {
				t.Fatalf("SubmitInteractive() unexpected error: %v", err)
			}
			if !strings.HasPrefix(string(streams.Identifier), SchemeLocal+"-") {
				t.Errorf("Identifier = %q, want local- prefix", streams.Identifier)
			}

			got := drain(t, streams, tt.stdin)
			if got.stdout != tt.wantOut {
				t.Errorf("stdout = %q, want %q", got.stdout, tt.wantOut)
			}
			if got.stderr != tt.wantErr {
				t.Errorf("stderr = %q, want %q", got.stderr, tt.wantErr)
			}

			// Streams reach EOF only after the job is recorded as done.
			st, err := sub.JobStatus(t.Context(), streams.Identifier)
			if err != nil {
				t.Fatalf("JobStatus() unexpected error: %v", err)
			}
			if !st.IsDone() || st.State != StateDone {
				t.Fatalf("JobStatus() = %v, want DONE", st)
			}
			if st.ExitCode == nil || int(*st.ExitCode) != tt.wantExit {
				t.Errorf("exit code = %v, want %d", st.ExitCode, tt.wantExit)
			}
			if st.HasError() {
				t.Errorf("unexpected status error: %v", st.Err)
			}
		})
	}
}

func TestLocal_RejectsQueue(t *testing.T) {
	t.Parallel()

	sub := newTestLocal(t)
	_, err := sub.SubmitInteractive(t.Context(), job.Description{Queue: "gpu", Executable: "true"})
	if !errors.Is(err, job.ErrNoSuchQueue) {
		t.Fatalf("SubmitInteractive() error = %v, want ErrNoSuchQueue", err)
	}
}

func TestLocal_StartFailure(t *testing.T) {
	t.Parallel()

	sub := newTestLocal(t)
	_, err := sub.SubmitInteractive(t.Context(), job.Description{Executable: "/nonexistent/batchsh-tool"})
	if err == nil {
		t.Fatal("SubmitInteractive() should fail for a missing executable")
	}
}

func TestLocal_StatusErrors(t *testing.T) {
	t.Parallel()

	sub := newTestLocal(t)
	ctx := t.Context()

	if _, err := sub.JobStatus(ctx, "local-unknown"); !errors.Is(err, job.ErrNoSuchJob) {
		t.Errorf("JobStatus(unknown) error = %v, want ErrNoSuchJob", err)
	}
	if _, err := sub.JobStatus(ctx, " "); !errors.Is(err, job.ErrInvalidIdentifier) {
		t.Errorf("JobStatus(blank) error = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := sub.WaitUntilDone(ctx, "local-unknown", -time.Second); !errors.Is(err, poll.ErrNegativeTimeout) {
		t.Errorf("WaitUntilDone(negative) error = %v, want ErrNegativeTimeout", err)
	}
	if _, err := sub.Cancel(ctx, "local-unknown"); !errors.Is(err, job.ErrNoSuchJob) {
		t.Errorf("Cancel(unknown) error = %v, want ErrNoSuchJob", err)
	}
}

func TestLocal_WaitUntilDoneTimesOut(t *testing.T) {
	t.Parallel()

	sub := newTestLocal(t)
	streams, err := sub.SubmitInteractive(t.Context(), job.Description{Executable: "sleep", Arguments: []string{"30"}})
	if err != nil {
		t.Fatal(err)
	}

	st, err := sub.WaitUntilDone(t.Context(), streams.Identifier, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitUntilDone() unexpected error: %v", err)
	}
	if st.IsDone() || !st.IsRunning() {
		t.Errorf("WaitUntilDone() = %v, want still running", st)
	}
}

func TestLocal_Cancel(t *testing.T) {
	t.Parallel()

	sub := newTestLocal(t)
	ctx := t.Context()
	streams, err := sub.SubmitInteractive(ctx, job.Description{Executable: "sleep", Arguments: []string{"30"}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sub.Cancel(ctx, streams.Identifier); err != nil {
		t.Fatalf("Cancel() unexpected error: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err := sub.WaitUntilDone(waitCtx, streams.Identifier, 0)
	if err != nil {
		t.Fatalf("WaitUntilDone() unexpected error: %v", err)
	}
	if !st.IsDone() || st.State != StateKilled {
		t.Fatalf("status = %v, want KILLED", st)
	}
	if !errors.Is(st.Err, ErrJobCanceled) {
		t.Errorf("status error = %v, want ErrJobCanceled", st.Err)
	}
	if st.ExitCode == nil || !st.ExitCode.IsSignal() {
		t.Errorf("exit code = %v, want a signal exit code", st.ExitCode)
	}
}

func TestLocal_CloseRejectsSubmissions(t *testing.T) {
	t.Parallel()

	sub := newTestLocal(t)
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close() unexpected error: %v", err)
	}
	_, err := sub.SubmitInteractive(t.Context(), job.Description{Executable: "true"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("SubmitInteractive() after Close error = %v, want ErrClosed", err)
	}
}

func TestRemoteCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		desc    job.Description
		want    string
		wantErr bool
	}{
		{
			name: "plain",
			desc: job.Description{Executable: "squeue", Arguments: []string{"--noheader", "-j", "42"}},
			want: "squeue --noheader -j 42",
		},
		{
			name: "quoted arguments",
			desc: job.Description{Executable: "echo", Arguments: []string{"a b", "it's", "$HOME"}},
			want: `echo 'a b' "it's" '$HOME'`,
		},
		{
			name: "directory and environment",
			desc: job.Description{
				Executable:       "sbatch",
				WorkingDirectory: "/scratch/my jobs",
				Environment:      map[string]string{"B": "2", "A": "one two"},
			},
			want: `cd '/scratch/my jobs' && export A='one two' && export B=2 && sbatch`,
		},
		{
			name:    "invalid environment name",
			desc:    job.Description{Executable: "true", Environment: map[string]string{"A;rm": "x"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := RemoteCommandLine(tt.desc)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("RemoteCommandLine() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RemoteCommandLine() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("RemoteCommandLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescriptions(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, d := range Descriptions() {
		if seen[d.Name] {
			t.Errorf("duplicate descriptor %q", d.Name)
		}
		seen[d.Name] = true
	}
	for _, name := range []string{LocalPollDelayProperty, SSHPollDelayProperty} {
		if !seen[name] {
			t.Errorf("missing descriptor %q", name)
		}
	}
}
