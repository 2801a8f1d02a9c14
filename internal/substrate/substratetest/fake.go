// SPDX-License-Identifier: MPL-2.0

// Package substratetest provides an in-memory substrate for tests of code
// that runs commands.
package substratetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/invowk/batchsh/internal/substrate"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

type (
	// Outcome is what a fake command produces.
	Outcome struct {
		Stdout   string
		Stderr   string
		ExitCode types.ExitCode
		// Err is reported as the status error of the finished job.
		Err error
		// NoExitCode finishes the job without an exit code.
		NoExitCode bool
	}

	// Handler computes the outcome of a command from its description and
	// the complete stdin payload.
	Handler func(desc job.Description, stdin string) Outcome

	// Submission records one SubmitInteractive call.
	Submission struct {
		Identifier  job.Identifier
		Description job.Description
		Stdin       string
	}

	// Fake is a substrate that runs commands through a Handler.
	Fake struct {
		SchemeName   string
		LocationName string
		Handler      Handler
		// SubmitErr fails every submission when set.
		SubmitErr error
		// CloseErr is returned by Close.
		CloseErr error

		mu          sync.Mutex
		next        int
		submissions []Submission
		statuses    map[job.Identifier]job.Status
		closeCalls  int
	}

	stdinBuffer struct {
		mu     sync.Mutex
		buf    bytes.Buffer
		closed chan struct{}
		once   sync.Once
	}
)

var _ substrate.Substrate = (*Fake)(nil)

// New returns a local-looking fake that runs h.
func New(h Handler) *Fake {
	return &Fake{SchemeName: substrate.SchemeLocal, LocationName: "/", Handler: h}
}

// Reply returns a handler that always produces o.
func Reply(o Outcome) Handler {
	return func(job.Description, string) Outcome { return o }
}

func (f *Fake) Scheme() string { return f.SchemeName }

func (f *Fake) Location() string { return f.LocationName }

func (f *Fake) QueueNames() []string { return []string{job.UnlimitedQueue} }

// SubmitInteractive starts the fake command. The handler runs once stdin is
// closed; the job is recorded as done before the output streams reach EOF.
func (f *Fake) SubmitInteractive(_ context.Context, desc job.Description) (*job.Streams, error) {
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}

	f.mu.Lock()
	f.next++
	id := job.Identifier(fmt.Sprintf("fake-%d", f.next))
	if f.statuses == nil {
		f.statuses = map[job.Identifier]job.Status{}
	}
	f.statuses[id] = job.RunningStatus(id, substrate.StateRunning)
	f.mu.Unlock()

	stdin := &stdinBuffer{closed: make(chan struct{})}
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	go func() {
		<-stdin.closed
		payload := stdin.String()
		out := Outcome{}
		if f.Handler != nil {
			out = f.Handler(desc, payload)
		}

		f.mu.Lock()
		f.submissions = append(f.submissions, Submission{Identifier: id, Description: desc, Stdin: payload})
		st := job.DoneStatus(id, substrate.StateDone, out.ExitCode, out.Err)
		if out.NoExitCode {
			st.ExitCode = nil
		}
		f.statuses[id] = st
		f.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = io.WriteString(outW, out.Stdout); _ = outW.Close() }()
		go func() { defer wg.Done(); _, _ = io.WriteString(errW, out.Stderr); _ = errW.Close() }()
		wg.Wait()
	}()

	return &job.Streams{Identifier: id, Stdin: stdin, Stdout: outR, Stderr: errR}, nil
}

func (f *Fake) JobStatus(_ context.Context, id job.Identifier) (job.Status, error) {
	if err := id.Validate(); err != nil {
		return job.Status{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return job.Status{}, job.NewNoSuchJobError(id)
	}
	return st, nil
}

// WaitUntilDone returns the current status without waiting; fake jobs are
// done as soon as their output is.
func (f *Fake) WaitUntilDone(ctx context.Context, id job.Identifier, _ time.Duration) (job.Status, error) {
	return f.JobStatus(ctx, id)
}

func (f *Fake) Cancel(ctx context.Context, id job.Identifier) (job.Status, error) {
	return f.JobStatus(ctx, id)
}

// Close counts the call and returns CloseErr.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return f.CloseErr
}

// CloseCalls returns how many times Close was called.
func (f *Fake) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

// Submissions returns the finished submissions in completion order.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

func (b *stdinBuffer) Write(p []byte) (int, error) {
	select {
	case <-b.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stdinBuffer) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *stdinBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
