// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/invowk/batchsh/internal/logging"
	"github.com/invowk/batchsh/internal/sshserver"
)

// StartSSHServer starts a loopback SSH endpoint on a random port and stops
// it when the test ends. The returned connection info carries a fresh token.
func StartSSHServer(t testing.TB, cfg sshserver.Config) (*sshserver.Server, *sshserver.ConnectionInfo) {
	t.Helper()
	RequireShell(t)

	srv, err := sshserver.New(cfg, sshserver.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("failed to create ssh server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("failed to start ssh server: %v", err)
	}
	t.Cleanup(func() { MustStop(t, srv) })

	info, err := srv.ConnectionInfo(t.Name())
	if err != nil {
		t.Fatalf("failed to get connection info: %v", err)
	}
	return srv, info
}
