// SPDX-License-Identifier: MPL-2.0

package substrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/sshconn"
	"github.com/invowk/batchsh/pkg/job"
	"github.com/invowk/batchsh/pkg/types"
)

// remote runs jobs as sessions of a single SSH connection.
type remote struct {
	location types.Location
	client   *ssh.Client
	jobs     *table

	closeOnce sync.Once
	closeErr  error
}

func dialSSH(
	location types.Location,
	cred credential.Credential,
	connOpts sshconn.Options,
	delay time.Duration,
	o options,
) (*remote, error) {
	client, err := sshconn.Dial(context.Background(), location, cred, connOpts)
	if err != nil {
		return nil, err
	}
	return newRemote(location, client, delay, o), nil
}

func newRemote(location types.Location, client *ssh.Client, delay time.Duration, o options) *remote {
	o.logger.Debug("ssh substrate created", "location", location, "poll_delay", delay)
	return &remote{
		location: location,
		client:   client,
		jobs:     newTable(SchemeSSH, delay, o),
	}
}

func (r *remote) Scheme() string { return SchemeSSH }

func (r *remote) Location() string { return r.location.Host() }

func (r *remote) QueueNames() []string { return []string{job.UnlimitedQueue} }

func (r *remote) SubmitInteractive(_ context.Context, desc job.Description) (*job.Streams, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if err := checkQueue(desc); err != nil {
		return nil, err
	}
	line, err := RemoteCommandLine(desc)
	if err != nil {
		return nil, err
	}

	id, err := r.jobs.add(desc)
	if err != nil {
		return nil, err
	}

	sess, err := r.client.NewSession()
	if err != nil {
		r.jobs.remove(id)
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		r.jobs.remove(id)
		_ = sess.Close()
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	sess.Stdout = outW
	sess.Stderr = errW

	if err := sess.Start(line); err != nil {
		r.jobs.remove(id)
		_ = sess.Close()
		_ = outW.Close()
		_ = errW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", desc.Executable, err)
	}

	r.jobs.started(id,
		func() error {
			// Servers that ignore signals still tear the command down when
			// the channel closes.
			_ = sess.Signal(ssh.SIGKILL)
			return sess.Close()
		},
		func() {
			_ = outR.CloseWithError(ErrClosed)
			_ = errR.CloseWithError(ErrClosed)
		},
	)

	go func() {
		code, err := remoteExit(sess.Wait())
		r.jobs.finish(id, code, err)
		_ = outW.Close()
		_ = errW.Close()
		_ = sess.Close()
	}()

	return &job.Streams{Identifier: id, Stdin: stdin, Stdout: outR, Stderr: errR}, nil
}

func (r *remote) JobStatus(_ context.Context, id job.Identifier) (job.Status, error) {
	return r.jobs.status(id)
}

func (r *remote) WaitUntilDone(ctx context.Context, id job.Identifier, timeout time.Duration) (job.Status, error) {
	return r.jobs.waitUntilDone(ctx, id, timeout)
}

func (r *remote) Cancel(_ context.Context, id job.Identifier) (job.Status, error) {
	return r.jobs.cancel(id)
}

func (r *remote) Close() error {
	r.closeOnce.Do(func() {
		r.jobs.shutdown()
		if err := r.client.Close(); err != nil && !errors.Is(err, io.EOF) {
			r.closeErr = fmt.Errorf("failed to close ssh connection to %s: %w", r.location, err)
		}
		r.jobs.logger.Debug("ssh substrate closed", "location", r.location)
	})
	return r.closeErr
}

// String identifies the substrate in error messages.
func (r *remote) String() string { return SchemeSSH + "://" + r.location.Host() }

// remoteExit converts the result of ssh.Session.Wait.
func remoteExit(err error) (types.ExitCode, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitStatus()
		if code < 0 || code > 255 {
			code = 255
		}
		return types.ExitCode(code), nil
	}
	return 255, err
}

// RemoteCommandLine renders desc as a POSIX shell command line. Every word
// is quoted; the working directory and environment are applied first.
func RemoteCommandLine(desc job.Description) (string, error) {
	var b strings.Builder

	if desc.WorkingDirectory != "" {
		dir, err := quote(desc.WorkingDirectory)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "cd %s && ", dir)
	}

	for _, k := range slices.Sorted(maps.Keys(desc.Environment)) {
		if !syntax.ValidName(k) {
			return "", &job.InvalidDescriptionError{Reason: fmt.Sprintf("environment variable name %q is invalid", k)}
		}
		v, err := quote(desc.Environment[k])
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "export %s=%s && ", k, v)
	}

	for i, word := range desc.CommandLine() {
		q, err := quote(word)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(q)
	}
	return b.String(), nil
}

func quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "", &job.InvalidDescriptionError{Reason: fmt.Sprintf("cannot quote %q: %v", s, err)}
	}
	return q, nil
}
