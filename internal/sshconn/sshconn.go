// SPDX-License-Identifier: MPL-2.0

// Package sshconn dials SSH client connections for remote locations.
package sshconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/pkg/types"
)

// DefaultTimeout bounds TCP connect plus SSH handshake.
const DefaultTimeout = 10 * time.Second

// ErrNoAuthMethod is returned when no authentication method could be
// derived from a credential.
var ErrNoAuthMethod = errors.New("no usable ssh authentication method")

// Options tune how a connection is established.
type Options struct {
	// StrictHostKeyChecking verifies the server key against KnownHosts.
	// When false any host key is accepted.
	StrictHostKeyChecking bool
	// KnownHosts is the known_hosts file. Empty means ~/.ssh/known_hosts.
	KnownHosts string
	// Timeout bounds connection setup. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Dial opens an SSH client connection to loc, authenticating with cred.
func Dial(ctx context.Context, loc types.Location, cred credential.Credential, opts Options) (*ssh.Client, error) {
	addr, err := loc.Address()
	if err != nil {
		return nil, err
	}

	cfg, err := ClientConfig(cred, opts)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// ClientConfig builds the client configuration for cred.
func ClientConfig(cred credential.Credential, opts Options) (*ssh.ClientConfig, error) {
	if cred == nil {
		cred = credential.Default{}
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	auth, err := authMethods(cred)
	if err != nil {
		return nil, err
	}

	hostKey, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &ssh.ClientConfig{
		User:            credential.ResolveUser(cred),
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func authMethods(cred credential.Credential) ([]ssh.AuthMethod, error) {
	switch c := cred.(type) {
	case credential.Password:
		return []ssh.AuthMethod{ssh.Password(c.Secret)}, nil
	case credential.KeyFile:
		signer, err := loadSigner(c.Path, c.Passphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case credential.Default:
		var signers []ssh.Signer
		for _, p := range credential.DefaultKeyFiles() {
			// Encrypted default keys are skipped.
			if s, err := loadSigner(p, ""); err == nil {
				signers = append(signers, s)
			}
		}
		if len(signers) == 0 {
			return nil, ErrNoAuthMethod
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported credential %T", ErrNoAuthMethod, cred)
	}
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return signer, nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if !opts.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in via property
	}
	path := opts.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", path, err)
	}
	return cb, nil
}
