// SPDX-License-Identifier: MPL-2.0

// Package runner runs one command to completion through a substrate and
// captures its exit code and output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/invowk/batchsh/internal/substrate"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

// ErrNoExitCode is returned when a command finished without an exit code.
var ErrNoExitCode = errors.New("command finished without exit code")

type (
	// Result is the outcome of a finished command.
	Result struct {
		ExitCode types.ExitCode
		Stdout   string
		Stderr   string
	}

	// Runner tracks one running command. Result may be called any number of
	// times from any goroutine; the command is only awaited once.
	Runner struct {
		adaptor    string
		executable string
		arguments  []string
		stdin      string
		target     string
		identifier job.Identifier

		done   chan struct{}
		result Result
		err    error
	}
)

// Success reports whether the command exited 0 and wrote nothing to stderr.
func (r Result) Success() bool {
	return r.ExitCode.IsSuccess() && r.Stderr == ""
}

// Start submits executable through sub, feeds it stdin and starts
// collecting its output in the background.
func Start(
	ctx context.Context,
	sub substrate.Substrate,
	adaptor, stdin, executable string,
	args ...string,
) (*Runner, error) {
	desc := job.Description{
		Queue:      job.UnlimitedQueue,
		Executable: executable,
		Arguments:  append([]string(nil), args...),
	}

	streams, err := sub.SubmitInteractive(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to start %s: %w", adaptor, executable, err)
	}

	r := &Runner{
		adaptor:    adaptor,
		executable: executable,
		arguments:  desc.Arguments,
		stdin:      stdin,
		target:     targetOf(sub),
		identifier: streams.Identifier,
		done:       make(chan struct{}),
	}
	go r.collect(ctx, sub, streams)
	return r, nil
}

func (r *Runner) collect(ctx context.Context, sub substrate.Substrate, streams *job.Streams) {
	defer close(r.done)

	var (
		wg             sync.WaitGroup
		stdout, stderr bytes.Buffer
		outErr, errErr error
	)
	wg.Add(2)
	go func() { defer wg.Done(); _, outErr = io.Copy(&stdout, streams.Stdout) }()
	go func() { defer wg.Done(); _, errErr = io.Copy(&stderr, streams.Stderr) }()

	// A process may exit without reading its input, so write errors are
	// not failures.
	if r.stdin != "" {
		_, _ = io.WriteString(streams.Stdin, r.stdin)
	}
	_ = streams.Stdin.Close()
	wg.Wait()

	r.result.Stdout = stdout.String()
	r.result.Stderr = stderr.String()

	// Output is complete, so the job is done or about to be.
	st, err := sub.WaitUntilDone(ctx, streams.Identifier, 0)
	switch {
	case err != nil:
		r.err = fmt.Errorf("%s: failed to wait for %s: %w", r.adaptor, r.executable, err)
	case !st.IsDone():
		r.err = fmt.Errorf("%s: %s did not finish: %w", r.adaptor, r.executable, cmpErr(context.Cause(ctx), ErrNoExitCode))
	case st.HasError():
		r.err = fmt.Errorf("%s: %s failed: %w", r.adaptor, r.executable, st.Err)
	case st.ExitCode == nil:
		r.err = fmt.Errorf("%s: %s: %w", r.adaptor, r.executable, ErrNoExitCode)
	default:
		r.result.ExitCode = *st.ExitCode
	}

	if r.err == nil {
		if e := errors.Join(outErr, errErr); e != nil {
			r.err = fmt.Errorf("%s: failed to read output of %s: %w", r.adaptor, r.executable, e)
		}
	}
}

// cmpErr returns the first non-nil error.
func cmpErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Result blocks until the command has finished and returns its outcome.
func (r *Runner) Result() (Result, error) {
	<-r.done
	return r.result, r.err
}

// Done is closed once the result is available.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Identifier returns the substrate job identifier of the command.
func (r *Runner) Identifier() job.Identifier { return r.identifier }

// Executable returns the command that was run.
func (r *Runner) Executable() string { return r.executable }

// Arguments returns a copy of the command arguments.
func (r *Runner) Arguments() []string { return append([]string(nil), r.arguments...) }

// Stdin returns the payload written to the command.
func (r *Runner) Stdin() string { return r.stdin }

// Target describes where the command ran.
func (r *Runner) Target() string { return r.target }

// String describes the command and its outcome, if known.
func (r *Runner) String() string {
	select {
	case <-r.done:
		if r.err != nil {
			return fmt.Sprintf("%s %v at %s: %v", r.executable, r.arguments, r.target, r.err)
		}
		return fmt.Sprintf("%s %v at %s: exit=%s stdout=%q stderr=%q",
			r.executable, r.arguments, r.target, r.result.ExitCode, r.result.Stdout, r.result.Stderr)
	default:
		return fmt.Sprintf("%s %v at %s: running", r.executable, r.arguments, r.target)
	}
}

func targetOf(sub substrate.Substrate) string {
	if s, ok := sub.(fmt.Stringer); ok {
		return s.String()
	}
	return sub.Scheme() + "://" + sub.Location()
}
