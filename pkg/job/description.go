// SPDX-License-Identifier: MPL-2.0

package job

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// UnlimitedQueue is the queue used for interactive helper commands. It has no
// concurrency limit on any substrate.
const UnlimitedQueue = "unlimited"

var (
	// ErrInvalidDescription is the sentinel error wrapped by InvalidDescriptionError.
	ErrInvalidDescription = errors.New("invalid job description")
	// ErrNoSuchQueue is the sentinel error wrapped by NoSuchQueueError.
	ErrNoSuchQueue = errors.New("no such queue")
)

type (
	// Description describes a job to submit.
	Description struct {
		// Queue is the scheduler queue (partition) to submit to.
		Queue string
		// Executable is the program to run.
		Executable string
		// Arguments are passed to Executable in order.
		Arguments []string
		// WorkingDirectory is absolute or relative to the filesystem entry path.
		WorkingDirectory string
		// Environment is added to the job environment.
		Environment map[string]string
		// Name is an optional human readable job name.
		Name string
		// MaxRuntimeMinutes limits the wall time; 0 leaves the scheduler default.
		MaxRuntimeMinutes int
		// Tasks is the number of tasks to start; 0 means one.
		Tasks int
	}

	// InvalidDescriptionError is returned when a Description cannot be submitted.
	InvalidDescriptionError struct {
		Reason string
	}

	// NoSuchQueueError is returned when one or more queue names are not known
	// to a scheduler. Queues lists exactly the offending names.
	NoSuchQueueError struct {
		Queues []string
	}
)

// Validate checks the fields every substrate and adaptor relies on.
func (d Description) Validate() error {
	if strings.TrimSpace(d.Executable) == "" {
		return &InvalidDescriptionError{Reason: "executable must be set"}
	}
	if d.MaxRuntimeMinutes < 0 {
		return &InvalidDescriptionError{Reason: fmt.Sprintf("max runtime %d must not be negative", d.MaxRuntimeMinutes)}
	}
	if d.Tasks < 0 {
		return &InvalidDescriptionError{Reason: fmt.Sprintf("task count %d must not be negative", d.Tasks)}
	}
	for k := range d.Environment {
		if k == "" || strings.ContainsAny(k, "= \t\n") {
			return &InvalidDescriptionError{Reason: fmt.Sprintf("environment variable name %q is invalid", k)}
		}
	}
	return nil
}

// CommandLine returns the executable followed by its arguments.
func (d Description) CommandLine() []string {
	return append([]string{d.Executable}, d.Arguments...)
}

// Error implements the error interface for InvalidDescriptionError.
func (e *InvalidDescriptionError) Error() string {
	return "invalid job description: " + e.Reason
}

// Unwrap returns ErrInvalidDescription for errors.Is() compatibility.
func (e *InvalidDescriptionError) Unwrap() error { return ErrInvalidDescription }

// NewNoSuchQueueError returns a NoSuchQueueError naming the given queues in
// the order given.
func NewNoSuchQueueError(queues ...string) *NoSuchQueueError {
	return &NoSuchQueueError{Queues: slices.Clone(queues)}
}

// Error implements the error interface for NoSuchQueueError.
func (e *NoSuchQueueError) Error() string {
	return fmt.Sprintf("invalid queues given: [%s]", strings.Join(e.Queues, ", "))
}

// Unwrap returns ErrNoSuchQueue for errors.Is() compatibility.
func (e *NoSuchQueueError) Unwrap() error { return ErrNoSuchQueue }
