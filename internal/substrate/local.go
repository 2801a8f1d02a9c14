// SPDX-License-Identifier: MPL-2.0

package substrate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"syscall"
	"time"

	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

// local runs jobs as child processes of the current process.
type local struct {
	location string
	jobs     *table
}

func newLocal(location string, delay time.Duration, o options) *local {
	o.logger.Debug("local substrate created", "location", location, "poll_delay", delay)
	return &local{
		location: cmp.Or(location, "/"),
		jobs:     newTable(SchemeLocal, delay, o),
	}
}

func (l *local) Scheme() string { return SchemeLocal }

func (l *local) Location() string { return l.location }

func (l *local) QueueNames() []string { return []string{job.UnlimitedQueue} }

func (l *local) SubmitInteractive(_ context.Context, desc job.Description) (*job.Streams, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := checkQueue(desc); err != nil {
		return nil, err
	}

	id, err := l.jobs.add(desc)
	if err != nil {
		return nil, err
	}

	// The job outlives the submitting call, so it is not bound to its context.
	cmd := exec.Command(desc.Executable, desc.Arguments...) //nolint:gosec // running scheduler tools is the point
	cmd.Dir = desc.WorkingDirectory
	cmd.Env = mergeEnv(os.Environ(), desc.Environment)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		l.jobs.remove(id)
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		l.jobs.remove(id)
		_ = stdin.Close()
		_ = outW.Close()
		_ = errW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", desc.Executable, err)
	}

	l.jobs.started(id,
		func() error { return cmd.Process.Kill() },
		func() {
			_ = outR.CloseWithError(ErrClosed)
			_ = errR.CloseWithError(ErrClosed)
		},
	)

	go func() {
		waitErr := cmd.Wait()
		code, err := localExit(cmd.ProcessState, waitErr)
		// Status first, then EOF, so readers that drained the streams see DONE.
		l.jobs.finish(id, code, err)
		_ = outW.Close()
		_ = errW.Close()
	}()

	return &job.Streams{Identifier: id, Stdin: stdin, Stdout: outR, Stderr: errR}, nil
}

func (l *local) JobStatus(_ context.Context, id job.Identifier) (job.Status, error) {
	return l.jobs.status(id)
}

func (l *local) WaitUntilDone(ctx context.Context, id job.Identifier, timeout time.Duration) (job.Status, error) {
	return l.jobs.waitUntilDone(ctx, id, timeout)
}

func (l *local) Cancel(_ context.Context, id job.Identifier) (job.Status, error) {
	return l.jobs.cancel(id)
}

func (l *local) Close() error {
	if l.jobs.shutdown() {
		l.jobs.logger.Debug("local substrate closed")
	}
	return nil
}

// String identifies the substrate in error messages.
func (l *local) String() string { return SchemeLocal + "://" + l.location }

// localExit converts the outcome of exec.Cmd.Wait into an exit code and an
// error that is nil whenever the process ran to an exit status.
func localExit(state *os.ProcessState, waitErr error) (types.ExitCode, error) {
	if state == nil {
		return 0, waitErr
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return types.ExitCode(128 + int(ws.Signal())), nil
	}
	code := state.ExitCode()
	if code < 0 || code > 255 {
		return 255, waitErr
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return types.ExitCode(code), waitErr
	}
	return types.ExitCode(code), nil
}

// mergeEnv appends env to base in name order.
func mergeEnv(base []string, env map[string]string) []string {
	if len(env) == 0 {
		return base
	}
	out := slices.Clone(base)
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}
