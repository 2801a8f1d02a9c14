// SPDX-License-Identifier: MPL-2.0

package job

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIdentifier is the sentinel error wrapped by InvalidIdentifierError.
	ErrInvalidIdentifier = errors.New("invalid job identifier")

	// ErrNoSuchJob is the sentinel error wrapped by NoSuchJobError.
	ErrNoSuchJob = errors.New("no such job")
)

type (
	// Identifier correlates a submitted job with later status queries.
	// Its content is opaque; only adaptors know how to derive it.
	Identifier string

	// InvalidIdentifierError is returned when an Identifier is empty,
	// whitespace-only or contains line breaks.
	InvalidIdentifierError struct {
		Value Identifier
	}

	// NoSuchJobError is returned for a well-formed identifier that names no
	// known job.
	NoSuchJobError struct {
		Identifier Identifier
	}
)

// String returns the string representation of the Identifier.
func (id Identifier) String() string { return string(id) }

// Validate returns nil if the identifier is usable in a status query.
func (id Identifier) Validate() error {
	s := string(id)
	if strings.TrimSpace(s) == "" || strings.ContainsAny(s, "\r\n") {
		return &InvalidIdentifierError{Value: id}
	}
	return nil
}

// Error implements the error interface for InvalidIdentifierError.
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid job identifier %q: must be non-empty and single-line", e.Value)
}

// Unwrap returns ErrInvalidIdentifier for errors.Is() compatibility.
func (e *InvalidIdentifierError) Unwrap() error { return ErrInvalidIdentifier }

// NewNoSuchJobError returns a NoSuchJobError for id.
func NewNoSuchJobError(id Identifier) *NoSuchJobError {
	return &NoSuchJobError{Identifier: id}
}

// Error implements the error interface for NoSuchJobError.
func (e *NoSuchJobError) Error() string {
	return fmt.Sprintf("no such job %q", e.Identifier)
}

// Unwrap returns ErrNoSuchJob for errors.Is() compatibility.
func (e *NoSuchJobError) Unwrap() error { return ErrNoSuchJob }
