// SPDX-License-Identifier: MPL-2.0

// Package substrate runs processes on behalf of scheduler adaptors, either on
// the local host or on a remote host over SSH, and tracks them as jobs.
package substrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/batchsh/internal/clock"
	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/logging"
	"github.com/invowk/batchsh/internal/props"
	"github.com/invowk/batchsh/internal/sshconn"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

// Schemes.
const (
	SchemeLocal = "local"
	SchemeSSH   = "ssh"
)

// Property names.
const (
	LocalPrefix = "batchsh.local."

	LocalPollDelayProperty = LocalPrefix + "poll.delay"
	SSHPollDelayProperty   = sshconn.Prefix + "poll.delay"

	// DefaultPollDelay is the poll delay used when none is configured.
	DefaultPollDelay = time.Second
)

// Job states reported in job.Status.State.
const (
	StatePending = "PENDING"
	StateRunning = "RUNNING"
	StateDone    = "DONE"
	StateKilled  = "KILLED"
)

var (
	// ErrUnknownScheme is returned by Create for an unsupported scheme.
	ErrUnknownScheme = errors.New("unknown substrate scheme")

	// ErrJobCanceled is carried by the status of a cancelled job.
	ErrJobCanceled = errors.New("job canceled")

	// ErrClosed is returned when a closed substrate is used.
	ErrClosed = errors.New("substrate closed")
)

type (
	// Substrate executes jobs on one target.
	// Implementations are safe for concurrent use.
	Substrate interface {
		// Scheme returns the scheme the substrate was created with.
		Scheme() string
		// Location returns the target location.
		Location() string
		// SubmitInteractive starts desc and returns its live streams.
		SubmitInteractive(ctx context.Context, desc job.Description) (*job.Streams, error)
		// JobStatus returns the current status of a job.
		JobStatus(ctx context.Context, id job.Identifier) (job.Status, error)
		// WaitUntilDone blocks until the job is done or timeout elapses.
		// A zero timeout waits forever.
		WaitUntilDone(ctx context.Context, id job.Identifier, timeout time.Duration) (job.Status, error)
		// Cancel kills a job and returns its status.
		Cancel(ctx context.Context, id job.Identifier) (job.Status, error)
		// QueueNames lists the accepted queues.
		QueueNames() []string
		// Close kills running jobs and releases the transport.
		Close() error
	}

	// Option configures a substrate.
	Option func(*options)

	options struct {
		logger *log.Logger
		clock  clock.Clock
	}
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used by WaitUntilDone.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.Component(o.logger, "substrate")
	return o
}

// LocalDescriptions returns the properties accepted by the local scheme.
func LocalDescriptions() []props.Description {
	return []props.Description{{
		Name:    LocalPollDelayProperty,
		Type:    props.TypeNatural,
		Default: strconv.FormatInt(DefaultPollDelay.Milliseconds(), 10),
		Doc:     "Delay in milliseconds between job status polls.",
	}}
}

// SSHDescriptions returns the properties accepted by the ssh scheme.
func SSHDescriptions() []props.Description {
	return append(sshconn.Descriptions(), props.Description{
		Name:    SSHPollDelayProperty,
		Type:    props.TypeNatural,
		Default: strconv.FormatInt(DefaultPollDelay.Milliseconds(), 10),
		Doc:     "Delay in milliseconds between job status polls.",
	})
}

// Descriptions returns the properties of every scheme.
func Descriptions() []props.Description {
	return append(LocalDescriptions(), SSHDescriptions()...)
}

// Create returns a substrate for scheme bound to location.
func Create(
	scheme string,
	location types.Location,
	cred credential.Credential,
	values map[string]string,
	opts ...Option,
) (Substrate, error) {
	o := buildOptions(opts)

	switch scheme {
	case SchemeLocal:
		p, err := props.New(LocalDescriptions(), values)
		if err != nil {
			return nil, err
		}
		delay, err := p.Millis(LocalPollDelayProperty)
		if err != nil {
			return nil, err
		}
		return newLocal(string(location), delay, o), nil

	case SchemeSSH:
		p, err := props.New(SSHDescriptions(), values)
		if err != nil {
			return nil, err
		}
		delay, err := p.Millis(SSHPollDelayProperty)
		if err != nil {
			return nil, err
		}
		connOpts, err := sshconn.OptionsFrom(p)
		if err != nil {
			return nil, err
		}
		return dialSSH(location, cred, connOpts, delay, o)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// checkQueue accepts the unlimited queue and the empty queue.
func checkQueue(desc job.Description) error {
	if desc.Queue != "" && desc.Queue != job.UnlimitedQueue {
		return job.NewNoSuchQueueError(desc.Queue)
	}
	return nil
}
