// SPDX-License-Identifier: MPL-2.0

// Package slurm drives a Slurm cluster through sbatch, squeue, sacct, sinfo
// and scancel, run locally or over SSH by the scripting core.
package slurm

import (
	"context"
	"time"

	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/props"
	"github.com/invowk/batchsh/internal/scripting"
	"github.com/invowk/batchsh/internal/substrate"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

const (
	// AdaptorName identifies the adaptor in errors and metrics.
	AdaptorName = "slurm"

	// Prefix is shared by all Slurm properties.
	Prefix = "batchsh.slurm."
	// PollDelayProperty is the interval between status queries of the wait
	// helpers, in milliseconds.
	PollDelayProperty = Prefix + "poll.delay"
)

// Scheduler is a Slurm adaptor. It is safe for concurrent use.
type Scheduler struct {
	core *scripting.Scheduler
}

var (
	_ scripting.QueueSource  = (*Scheduler)(nil)
	_ scripting.StatusSource = (*Scheduler)(nil)
)

// Descriptions returns the properties the adaptor recognizes, including the
// substrate properties it passes through.
func Descriptions() []props.Description {
	return append([]props.Description{{
		Name:    PollDelayProperty,
		Type:    props.TypeNatural,
		Default: "1000",
		Doc:     "Milliseconds between job status queries while waiting.",
	}}, substrate.Descriptions()...)
}

// New connects to the Slurm installation at location.
func New(location types.Location, cred credential.Credential, properties map[string]string,
	opts ...scripting.Option,
) (*Scheduler, error) {
	core, err := scripting.New(scripting.Config{
		AdaptorName:         AdaptorName,
		Location:            location,
		Credential:          cred,
		SupportsBatch:       true,
		SupportsInteractive: false,
		Properties:          properties,
		ValidProperties:     Descriptions(),
		PollDelayProperty:   PollDelayProperty,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &Scheduler{core: core}, nil
}

// Core returns the scripting core, e.g. to run helper commands.
func (s *Scheduler) Core() *scripting.Scheduler { return s.core }

// QueueNames lists the partitions known to sinfo.
func (s *Scheduler) QueueNames(ctx context.Context) ([]string, error) {
	names, _, err := s.queues(ctx)
	return names, err
}

// DefaultQueueName returns the default partition, or "" if sinfo marks none.
func (s *Scheduler) DefaultQueueName(ctx context.Context) (string, error) {
	_, def, err := s.queues(ctx)
	return def, err
}

func (s *Scheduler) queues(ctx context.Context) ([]string, string, error) {
	out, err := s.core.RunCheckedCommand(ctx, "", "sinfo", "--noheader", "--format=%P")
	if err != nil {
		return nil, "", err
	}
	names, def := ParseQueueNames(out)
	return names, def, nil
}

// Submit checks the queue and working directory of desc and submits it
// with sbatch.
func (s *Scheduler) Submit(ctx context.Context, desc job.Description) (job.Identifier, error) {
	script, err := GenerateScript(desc)
	if err != nil {
		return "", err
	}
	if desc.Queue != "" && desc.Queue != job.UnlimitedQueue {
		if err := s.core.CheckQueueNames(ctx, s, desc.Queue); err != nil {
			return "", err
		}
	}
	if err := s.core.CheckWorkingDirectory(ctx, desc.WorkingDirectory); err != nil {
		return "", err
	}

	out, err := s.core.RunCheckedCommand(ctx, script, "sbatch")
	if err != nil {
		return "", err
	}
	return ParseSubmitOutput(out)
}

// JobStatus asks squeue for id and falls back to sacct once the job has
// left the queue.
func (s *Scheduler) JobStatus(ctx context.Context, id job.Identifier) (job.Status, error) {
	if err := id.Validate(); err != nil {
		return job.Status{}, err
	}

	r, err := s.core.RunCommand(ctx, "", "squeue", "--noheader", "--format=%i|%T", "--jobs="+string(id))
	if err != nil {
		return job.Status{}, err
	}
	res, err := r.Result()
	if err != nil {
		return job.Status{}, err
	}
	// squeue fails with "Invalid job id specified" for jobs it has forgotten.
	if res.Success() {
		state, found, err := ParseJobState(res.Stdout, id)
		if err != nil {
			return job.Status{}, err
		}
		if found {
			return MapState(id, state, nil), nil
		}
	}

	out, err := s.core.RunCheckedCommand(ctx, "", "sacct", "-X", "-n", "-P", "-o", "JobID,State,ExitCode", "-j", string(id))
	if err != nil {
		return job.Status{}, err
	}
	rec, found, err := ParseAccountingRecord(out, id)
	if err != nil {
		return job.Status{}, err
	}
	if !found {
		return job.Status{}, job.NewNoSuchJobError(id)
	}
	return MapState(id, rec.State, &rec.ExitCode), nil
}

// Cancel asks scancel to stop id and returns the status right after. It
// does not wait for the job to end.
func (s *Scheduler) Cancel(ctx context.Context, id job.Identifier) (job.Status, error) {
	if err := id.Validate(); err != nil {
		return job.Status{}, err
	}
	if _, err := s.core.RunCheckedCommand(ctx, "", "scancel", string(id)); err != nil {
		return job.Status{}, err
	}
	return s.JobStatus(ctx, id)
}

// WaitUntilDone polls id until it is done or timeout passes. A zero timeout
// waits forever.
func (s *Scheduler) WaitUntilDone(ctx context.Context, id job.Identifier, timeout time.Duration) (job.Status, error) {
	return s.core.WaitUntilDone(ctx, s, id, timeout)
}

// WaitUntilRunning polls id until it runs, is done, or timeout passes.
func (s *Scheduler) WaitUntilRunning(ctx context.Context, id job.Identifier, timeout time.Duration) (job.Status, error) {
	return s.core.WaitUntilRunning(ctx, s, id, timeout)
}

// Close releases the connection to the cluster.
func (s *Scheduler) Close() error { return s.core.Close() }
