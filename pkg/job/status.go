// SPDX-License-Identifier: MPL-2.0

package job

import (
	"fmt"
	"strings"

	"github.com/invowk/batchsh/pkg/types"
)

// Phase is the logical lifecycle position of a job. Done is terminal.
type Phase int

const (
	// PhasePending means the job is known but not running yet.
	PhasePending Phase = iota
	// PhaseRunning means the job has started.
	PhaseRunning
	// PhaseDone means the job has finished, successfully or not.
	PhaseDone
)

// Status is a point-in-time snapshot of a job. Statuses are produced fresh
// by every query and are never cached by the facade.
type Status struct {
	// Identifier is the job the status belongs to.
	Identifier Identifier
	// State is the scheduler's own name for the state (e.g. "PENDING").
	State string
	// ExitCode is set once the job is done and an exit code is known.
	ExitCode *types.ExitCode
	// Err describes why a done job failed, if it did.
	Err error
	// Running reports whether the job is executing.
	Running bool
	// Done reports whether the job reached a terminal state.
	Done bool
	// Info carries scheduler specific key/value pairs.
	Info map[string]string
}

// PendingStatus returns a status for a job that has not started.
func PendingStatus(id Identifier, state string) Status {
	return Status{Identifier: id, State: state}
}

// RunningStatus returns a status for a job that is executing.
func RunningStatus(id Identifier, state string) Status {
	return Status{Identifier: id, State: state, Running: true}
}

// DoneStatus returns a terminal status with the given exit code and error.
func DoneStatus(id Identifier, state string, code types.ExitCode, err error) Status {
	return Status{Identifier: id, State: state, ExitCode: &code, Err: err, Done: true}
}

// IsRunning reports whether the job is executing.
func (s Status) IsRunning() bool { return s.Running }

// IsDone reports whether the job reached a terminal state.
func (s Status) IsDone() bool { return s.Done }

// HasError reports whether the status carries an error.
func (s Status) HasError() bool { return s.Err != nil }

// Phase folds the flags into a single Phase value.
func (s Status) Phase() Phase {
	switch {
	case s.Done:
		return PhaseDone
	case s.Running:
		return PhaseRunning
	default:
		return PhasePending
	}
}

// String renders the status for logs and CLI output.
func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Identifier, s.State)
	if s.ExitCode != nil {
		fmt.Fprintf(&b, " exit=%s", s.ExitCode)
	}
	if s.Err != nil {
		fmt.Fprintf(&b, " error=%q", s.Err.Error())
	}
	return b.String()
}

// String returns the lower-case name of the phase.
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}
