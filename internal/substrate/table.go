// SPDX-License-Identifier: MPL-2.0

package substrate

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/invowk/batchsh/internal/clock"
	"github.com/invowk/batchsh/internal/poll"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

type (
	// table tracks the jobs of one substrate. It is the part shared by the
	// local and ssh schemes.
	table struct {
		scheme string
		delay  time.Duration
		clock  clock.Clock
		logger *log.Logger

		mu     sync.Mutex
		jobs   map[job.Identifier]*entry
		closed bool
	}

	entry struct {
		id       job.Identifier
		desc     job.Description
		state    string
		exitCode types.ExitCode
		err      error
		done     bool
		canceled bool

		// kill stops the process. release unblocks stream writers that have
		// no reader left. Both are set once the job has started.
		kill    func() error
		release func()
	}
)

func newTable(scheme string, delay time.Duration, o options) *table {
	return &table{
		scheme: scheme,
		delay:  delay,
		clock:  o.clock,
		logger: o.logger,
		jobs:   make(map[job.Identifier]*entry),
	}
}

// add registers a pending job and returns its identifier.
func (t *table) add(desc job.Description) (job.Identifier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrClosed
	}
	id := job.Identifier(t.scheme + "-" + uuid.NewString())
	t.jobs[id] = &entry{id: id, desc: desc, state: StatePending}
	return id, nil
}

// started marks a job running and records how to stop it.
func (t *table) started(id job.Identifier, kill func() error, release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.jobs[id]; ok && !e.done {
		e.state = StateRunning
		e.kill = kill
		e.release = release
	}
	t.logger.Debug("job started", "id", id)
}

// finish records the exit of a job. A cancelled job ends as KILLED.
func (t *table) finish(id job.Identifier, code types.ExitCode, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[id]
	if !ok || e.done {
		return
	}
	e.done = true
	e.exitCode = code
	e.state = StateDone
	e.err = err
	if e.canceled {
		e.state = StateKilled
		e.err = ErrJobCanceled
	}
	e.kill = nil
	e.release = nil
	t.logger.Debug("job finished", "id", id, "state", e.state, "exit", code)
}

// remove forgets a job that never started.
func (t *table) remove(id job.Identifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

func (t *table) status(id job.Identifier) (job.Status, error) {
	if err := id.Validate(); err != nil {
		return job.Status{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[id]
	if !ok {
		return job.Status{}, job.NewNoSuchJobError(id)
	}
	return e.status(), nil
}

func (e *entry) status() job.Status {
	var st job.Status
	switch {
	case e.done:
		st = job.DoneStatus(e.id, e.state, e.exitCode, e.err)
	case e.state == StateRunning:
		st = job.RunningStatus(e.id, e.state)
	default:
		st = job.PendingStatus(e.id, e.state)
	}
	st.Info = map[string]string{"executable": e.desc.Executable}
	if e.desc.Name != "" {
		st.Info["name"] = e.desc.Name
	}
	return st
}

func (t *table) waitUntilDone(ctx context.Context, id job.Identifier, timeout time.Duration) (job.Status, error) {
	if err := id.Validate(); err != nil {
		return job.Status{}, err
	}
	deadline, err := poll.Deadline(t.clock.Now(), timeout)
	if err != nil {
		return job.Status{}, err
	}
	return poll.Until(ctx, t.clock, t.delay, deadline,
		func(context.Context) (job.Status, error) { return t.status(id) },
		job.Status.IsDone,
	)
}

// cancel kills a running job. The returned status is KILLED once the
// process has been reaped, which may be after cancel returns.
func (t *table) cancel(id job.Identifier) (job.Status, error) {
	if err := id.Validate(); err != nil {
		return job.Status{}, err
	}

	t.mu.Lock()
	e, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return job.Status{}, job.NewNoSuchJobError(id)
	}
	if e.done {
		st := e.status()
		t.mu.Unlock()
		return st, nil
	}
	e.canceled = true
	kill := e.kill
	t.mu.Unlock()

	if kill != nil {
		if err := kill(); err != nil {
			t.logger.Debug("kill failed", "id", id, "error", err)
		}
	}
	t.logger.Debug("job canceled", "id", id)
	return t.status(id)
}

// shutdown kills every running job and rejects further submissions.
// It reports whether the table was open.
func (t *table) shutdown() bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	var stop []func()
	for _, e := range t.jobs {
		if e.done {
			continue
		}
		e.canceled = true
		kill, release := e.kill, e.release
		stop = append(stop, func() {
			if kill != nil {
				_ = kill()
			}
			if release != nil {
				release()
			}
		})
	}
	t.mu.Unlock()

	for _, f := range stop {
		f()
	}
	return true
}
