// SPDX-License-Identifier: MPL-2.0

// Package credential describes how to authenticate against a remote
// execution target. Authentication itself happens in the transport.
package credential

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// ErrInvalidCredential is the sentinel error wrapped by InvalidCredentialError.
var ErrInvalidCredential = errors.New("invalid credential")

type (
	// Credential identifies a user and carries the secret used to log in.
	// A nil Credential means the default credential of the current user.
	Credential interface {
		// Username returns the login name. Empty means the current user.
		Username() string
		// Validate checks the credential is well-formed.
		Validate() error
	}

	// Default authenticates as the current user with the keys found in
	// ~/.ssh.
	Default struct {
		User string
	}

	// Password authenticates with a user name and password.
	Password struct {
		User   string
		Secret string
	}

	// KeyFile authenticates with a PEM-encoded private key on disk.
	KeyFile struct {
		User string
		Path string
		// Passphrase decrypts the key. Empty for unencrypted keys.
		Passphrase string
	}

	// InvalidCredentialError is returned when a credential is malformed.
	InvalidCredentialError struct {
		Kind   string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("invalid %s credential: %s", e.Kind, e.Reason)
}

// Unwrap returns ErrInvalidCredential for errors.Is() compatibility.
func (e *InvalidCredentialError) Unwrap() error { return ErrInvalidCredential }

// Username returns the configured user.
func (d Default) Username() string { return d.User }

// Validate always succeeds.
func (d Default) Validate() error { return nil }

// Username returns the configured user.
func (p Password) Username() string { return p.User }

// Validate rejects an empty secret.
func (p Password) Validate() error {
	if p.Secret == "" {
		return &InvalidCredentialError{Kind: "password", Reason: "empty password"}
	}
	return nil
}

// String hides the secret.
func (p Password) String() string {
	return fmt.Sprintf("password(%s)", p.User)
}

// Username returns the configured user.
func (k KeyFile) Username() string { return k.User }

// Validate rejects an empty path.
func (k KeyFile) Validate() error {
	if k.Path == "" {
		return &InvalidCredentialError{Kind: "key file", Reason: "empty path"}
	}
	return nil
}

// ResolveUser returns the login name for cred, falling back to the
// current OS user.
func ResolveUser(cred Credential) string {
	if cred != nil && cred.Username() != "" {
		return cred.Username()
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// DefaultKeyFiles lists the private keys Default tries, in order.
// Only files that exist are returned.
func DefaultKeyFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}
