// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// LocalMarker is the canonical location of the local host.
	LocalMarker Location = "local"

	localPrefix = "local://"
	sshPrefix   = "ssh://"

	// DefaultSSHPort is used when a remote location carries no port.
	DefaultSSHPort = 22
)

// ErrInvalidLocation is the sentinel error wrapped by InvalidLocationError.
var ErrInvalidLocation = errors.New("invalid location")

type (
	// Location identifies where scheduler commands run: the local host
	// (empty, "local" or a "local://" prefix) or a remote host given as
	// "host", "host:port" or "ssh://host[:port]".
	Location string

	// InvalidLocationError is returned when a remote Location cannot be
	// turned into a dialable address.
	InvalidLocationError struct {
		Value  Location
		Reason string
	}
)

// String returns the string representation of the Location.
func (l Location) String() string { return string(l) }

// IsLocal reports whether the location denotes the local host.
func (l Location) IsLocal() bool {
	s := strings.TrimSpace(string(l))
	return s == "" || s == string(LocalMarker) || strings.HasPrefix(s, localPrefix)
}

// Host returns the remote host part, with any scheme prefix and trailing
// slashes removed. It returns "" for local locations.
func (l Location) Host() string {
	if l.IsLocal() {
		return ""
	}
	s := strings.TrimPrefix(strings.TrimSpace(string(l)), sshPrefix)
	return strings.TrimRight(s, "/")
}

// Address returns the "host:port" address to dial, defaulting the port to
// DefaultSSHPort.
func (l Location) Address() (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}
	if l.IsLocal() {
		return "", &InvalidLocationError{Value: l, Reason: "local location has no network address"}
	}

	host := l.Host()
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		// No port given.
		return net.JoinHostPort(host, strconv.Itoa(DefaultSSHPort)), nil
	}
	if _, err := strconv.Atoi(p); err != nil {
		return "", &InvalidLocationError{Value: l, Reason: fmt.Sprintf("port %q is not numeric", p)}
	}
	return net.JoinHostPort(h, p), nil
}

// Validate returns nil for local locations and for remote locations with a
// non-empty host that contains no whitespace.
func (l Location) Validate() error {
	if l.IsLocal() {
		return nil
	}
	host := l.Host()
	if host == "" {
		return &InvalidLocationError{Value: l, Reason: "missing host"}
	}
	if strings.ContainsAny(host, " \t\n") {
		return &InvalidLocationError{Value: l, Reason: "host contains whitespace"}
	}
	return nil
}

// Error implements the error interface for InvalidLocationError.
func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("invalid location %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidLocation for errors.Is() compatibility.
func (e *InvalidLocationError) Unwrap() error { return ErrInvalidLocation }
