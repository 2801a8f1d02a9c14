// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/invowk/batchsh/internal/clock"
	"github.com/invowk/batchsh/internal/logging"
)

func newTestServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	srv, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return srv
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("exec sessions rely on /bin/sh")
	}
	srv := newTestServer(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func dialPassword(t *testing.T, srv *Server, password string) (*gossh.Client, error) {
	t.Helper()

	return gossh.Dial("tcp", srv.Address(), &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.Password(password)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // loopback test server
		Timeout:         5 * time.Second,
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "blank host", mutate: func(c *Config) { c.Host = "  " }, wantErr: true},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "negative port", mutate: func(c *Config) { c.Port = -1 }, wantErr: true},
		{name: "blank token", mutate: func(c *Config) { c.Token = " " }, wantErr: true},
		{name: "no shell", mutate: func(c *Config) { c.DefaultShell = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSSHConfig) {
				t.Errorf("Validate() error should wrap ErrInvalidSSHConfig, got %v", err)
			}
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, Config{})
	if srv.cfg.Host != "127.0.0.1" || srv.cfg.DefaultShell != "/bin/sh" || srv.cfg.User != "batchsh" {
		t.Errorf("defaults not applied: %+v", srv.cfg)
	}
	if srv.State() != StateCreated {
		t.Errorf("State() = %s, want created", srv.State())
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Time{})
	srv := newTestServer(t, Config{TokenTTL: time.Minute, Token: "static-secret"}, WithClock(clk))

	token, err := srv.GenerateToken("job-a")
	if err != nil {
		t.Fatalf("GenerateToken() unexpected error: %v", err)
	}
	if _, ok := srv.ValidateToken(token.Value); !ok {
		t.Error("fresh token should be valid")
	}
	if _, ok := srv.ValidateToken("invalid-token"); ok {
		t.Error("unknown token should be invalid")
	}

	clk.Advance(2 * time.Minute)
	if _, ok := srv.ValidateToken(token.Value); ok {
		t.Error("expired token should be invalid")
	}
	if _, ok := srv.ValidateToken("static-secret"); !ok {
		t.Error("static token should never expire")
	}

	t1, _ := srv.GenerateToken("job-b")
	t2, _ := srv.GenerateToken("job-b")
	t3, _ := srv.GenerateToken("job-c")
	srv.RevokeTokensForLabel("job-b")
	if _, ok := srv.ValidateToken(t1.Value); ok {
		t.Error("t1 should be revoked")
	}
	if _, ok := srv.ValidateToken(t2.Value); ok {
		t.Error("t2 should be revoked")
	}
	if _, ok := srv.ValidateToken(t3.Value); !ok {
		t.Error("t3 should still be valid")
	}
	srv.RevokeToken(t3.Value)
	if _, ok := srv.ValidateToken(t3.Value); ok {
		t.Error("t3 should be revoked")
	}
}

func TestTokenValue_StringRedacts(t *testing.T) {
	t.Parallel()

	if s := TokenValue("secret").String(); strings.Contains(s, "secret") {
		t.Errorf("String() = %q leaks the token", s)
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, DefaultConfig())
	if !srv.IsRunning() {
		t.Fatalf("State() = %s, want running", srv.State())
	}
	if srv.Port() == 0 {
		t.Error("Port() should be bound")
	}
	if !strings.HasPrefix(srv.Location().String(), "ssh://127.0.0.1:") {
		t.Errorf("Location() = %q", srv.Location())
	}
	if err := srv.Start(t.Context()); err == nil {
		t.Error("second Start() should fail")
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() unexpected error: %v", err)
	}
	if srv.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", srv.State())
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop() unexpected error: %v", err)
	}
	if err := srv.Wait(); err != nil {
		t.Errorf("Wait() unexpected error: %v", err)
	}
	if _, ok := <-srv.Err(); ok {
		t.Error("Err() should be closed after Stop")
	}
}

func TestStart_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() with cancelled context should fail")
	}
	if srv.State() != StateFailed {
		t.Errorf("State() = %s, want failed", srv.State())
	}
}

func TestStop_NeverStarted(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, DefaultConfig())
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() unexpected error: %v", err)
	}
	if srv.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", srv.State())
	}
}

func TestConnectionInfo_RequiresRunning(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, DefaultConfig())
	if _, err := srv.ConnectionInfo("x"); err == nil {
		t.Fatal("ConnectionInfo() should fail before Start")
	}
}

func TestExec(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, DefaultConfig())
	info, err := srv.ConnectionInfo("exec")
	if err != nil {
		t.Fatal(err)
	}
	if info.Credential().Secret != string(info.Token) {
		t.Error("Credential() should carry the token")
	}

	client, err := dialPassword(t, srv, string(info.Token))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	tests := []struct {
		name     string
		command  string
		stdin    string
		wantOut  string
		wantErr  string
		wantCode int
	}{
		{name: "stdout", command: "echo hello", wantOut: "hello\n"},
		{name: "stdin", command: "cat", stdin: "piped", wantOut: "piped"},
		{name: "stderr and exit code", command: "echo bad >&2; exit 4", wantErr: "bad\n", wantCode: 4},
		{name: "quoted words", command: `printf '%s|' 'a b' c`, wantOut: "a b|c|"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := client.NewSession()
			if err != nil {
				t.Fatalf("NewSession: %v", err)
			}
			defer sess.Close()

			var stdout, stderr bytes.Buffer
			sess.Stdin = strings.NewReader(tt.stdin)
			sess.Stdout = &stdout
			sess.Stderr = &stderr

			err = sess.Run(tt.command)
			code := 0
			var exitErr *gossh.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitStatus()
			} else if err != nil {
				t.Fatalf("Run() unexpected error: %v", err)
			}

			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if stdout.String() != tt.wantOut {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantOut)
			}
			if stderr.String() != tt.wantErr {
				t.Errorf("stderr = %q, want %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestAuth_RejectsBadPassword(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, DefaultConfig())
	if _, err := dialPassword(t, srv, "wrong"); err == nil {
		t.Fatal("dial with a wrong token should fail")
	}
}

func TestAuth_PublicKey(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.AuthorizedKeys = append(cfg.AuthorizedKeys, sshPub)
	srv := startTestServer(t, cfg)

	client, err := gossh.Dial("tcp", srv.Address(), &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // loopback test server
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("public key dial failed: %v", err)
	}
	_ = client.Close()
}

func TestSFTPSubsystem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := startTestServer(t, Config{Token: "sftp-token"})
	conn, err := dialPassword(t, srv, "sftp-token")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		t.Fatalf("sftp.NewClient: %v", err)
	}
	defer client.Close()

	if wd, err := client.Getwd(); err != nil || wd == "" {
		t.Errorf("Getwd() = %q, %v", wd, err)
	}
	if _, err := client.Stat(filepath.ToSlash(filepath.Join(dir, "present.txt"))); err != nil {
		t.Errorf("Stat(present) unexpected error: %v", err)
	}
	if _, err := client.Stat(filepath.ToSlash(filepath.Join(dir, "absent.txt"))); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat(absent) error = %v, want ErrNotExist", err)
	}
}

func TestSFTPSubsystem_Disabled(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, Config{Token: "t", DisableSFTP: true})
	conn, err := dialPassword(t, srv, "t")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := sftp.NewClient(conn); err == nil {
		t.Fatal("sftp.NewClient() should fail when the subsystem is disabled")
	}
}
