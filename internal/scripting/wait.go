// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"context"
	"time"

	"github.com/invowk/batchsh/internal/metrics"
	"github.com/invowk/batchsh/internal/poll"
	"github.com/invowk/batchsh/pkg/job"
)

// WaitUntilDone polls source until the job is done or timeout elapses and
// returns the last status. A zero timeout waits forever; a negative one is
// rejected before any query. Cancelling ctx between polls returns the last
// status without error.
func (s *Scheduler) WaitUntilDone(ctx context.Context, source StatusSource, id job.Identifier, timeout time.Duration) (job.Status, error) {
	return s.wait(ctx, source, id, timeout, metrics.WaitDone, job.Status.IsDone)
}

// WaitUntilRunning is like WaitUntilDone but also stops as soon as the job
// is running.
func (s *Scheduler) WaitUntilRunning(ctx context.Context, source StatusSource, id job.Identifier, timeout time.Duration) (job.Status, error) {
	return s.wait(ctx, source, id, timeout, metrics.WaitRunning, func(st job.Status) bool {
		return st.IsRunning() || st.IsDone()
	})
}

func (s *Scheduler) wait(
	ctx context.Context,
	source StatusSource,
	id job.Identifier,
	timeout time.Duration,
	kind string,
	stop func(job.Status) bool,
) (job.Status, error) {
	if err := id.Validate(); err != nil {
		return job.Status{}, err
	}
	deadline, err := poll.Deadline(s.clock.Now(), timeout)
	if err != nil {
		return job.Status{}, err
	}

	query := func(ctx context.Context) (job.Status, error) {
		s.metrics.IncStatusPoll(s.adaptor, kind)
		return source.JobStatus(ctx, id)
	}

	st, err := poll.Until(ctx, s.clock, s.pollDelay, deadline, query, stop)

	outcome := metrics.OutcomeTimeout
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
	case stop(st):
		outcome = metrics.OutcomeReached
	case ctx.Err() != nil:
		outcome = metrics.OutcomeCanceled
	}
	s.metrics.ObserveWait(s.adaptor, kind, outcome)
	s.logger.Debug("wait finished", "job", id, "wait", kind, "outcome", outcome, "state", st.State)

	return st, err
}
