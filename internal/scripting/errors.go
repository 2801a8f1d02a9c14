// SPDX-License-Identifier: MPL-2.0

package scripting

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/batchsh/pkg/types"
)

var (
	// ErrConstruction is the sentinel error wrapped by ConstructionError.
	ErrConstruction = errors.New("failed to create scheduler")

	// ErrCommandFailed is the sentinel error wrapped by ExecutionError.
	ErrCommandFailed = errors.New("command failed")

	// ErrInvalidWorkingDirectory is the sentinel error wrapped by
	// InvalidWorkingDirectoryError.
	ErrInvalidWorkingDirectory = errors.New("invalid working directory")
)

type (
	// ConstructionError is returned by New when the properties are invalid or
	// the substrate or file system cannot be created.
	ConstructionError struct {
		Adaptor  string
		Location types.Location
		Cause    error
	}

	// ExecutionError is returned by RunCheckedCommand when a command exits
	// with a non-zero code or writes to stderr. It carries everything needed
	// to diagnose the failure without running the command again.
	ExecutionError struct {
		Adaptor    string
		Executable string
		Arguments  []string
		Stdin      string
		Target     string
		ExitCode   types.ExitCode
		Stdout     string
		Stderr     string
	}

	// InvalidWorkingDirectoryError is returned when a job working directory
	// does not exist on the target. Path is the resolved absolute path.
	InvalidWorkingDirectoryError struct {
		Adaptor string
		Path    string
	}
)

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	loc := e.Location.String()
	if e.Location.IsLocal() {
		loc = "local"
	}
	return fmt.Sprintf("%s: failed to create scheduler at %q: %v", e.Adaptor, loc, e.Cause)
}

// Unwrap returns ErrConstruction and the cause, so errors.Is matches both.
func (e *ConstructionError) Unwrap() []error {
	return []error{ErrConstruction, e.Cause}
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: could not run command %q with stdin %q arguments [%s] at %q. Exit code = %s Output: %s Error output: %s",
		e.Adaptor, e.Executable, e.Stdin, strings.Join(e.Arguments, ", "), e.Target,
		e.ExitCode, e.Stdout, e.Stderr)
}

// Unwrap returns ErrCommandFailed for errors.Is() compatibility.
func (e *ExecutionError) Unwrap() error { return ErrCommandFailed }

// Error implements the error interface.
func (e *InvalidWorkingDirectoryError) Error() string {
	return fmt.Sprintf("%s: working directory does not exist: %s", e.Adaptor, e.Path)
}

// Unwrap returns ErrInvalidWorkingDirectory for errors.Is() compatibility.
func (e *InvalidWorkingDirectoryError) Unwrap() error { return ErrInvalidWorkingDirectory }
