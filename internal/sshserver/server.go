// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/invowk/batchsh/internal/clock"
	"github.com/invowk/batchsh/internal/credential"
	"github.com/invowk/batchsh/internal/logging"
	"github.com/invowk/batchsh/pkg/types"
)

type (
	// Token is a password the server accepts until it expires.
	Token struct {
		Value     TokenValue
		Label     string
		CreatedAt time.Time
		// ExpiresAt is zero for the static token of Config.
		ExpiresAt time.Time
	}

	// Config holds immutable configuration for the SSH server.
	Config struct {
		// Host is the address to bind to (default: 127.0.0.1).
		Host HostAddress
		// Port is the port to listen on (0 = auto-select).
		Port int
		// Token is accepted as password for the lifetime of the server.
		// Empty means only generated tokens and authorized keys are accepted.
		Token TokenValue
		// User is the login name reported in ConnectionInfo (default: batchsh).
		User string
		// AuthorizedKeys are accepted for public key authentication.
		AuthorizedKeys []ssh.PublicKey
		// TokenTTL is how long generated tokens are valid (default: 1 hour).
		TokenTTL time.Duration
		// DefaultShell runs exec requests and interactive sessions (default: /bin/sh).
		DefaultShell string
		// DisableSFTP turns the sftp subsystem off.
		DisableSFTP bool
		// ShutdownTimeout bounds graceful shutdown (default: 10s).
		ShutdownTimeout time.Duration
		// StartupTimeout bounds Start (default: 5s).
		StartupTimeout time.Duration
	}

	// ConnectionInfo tells a client how to reach and log into the server.
	ConnectionInfo struct {
		Host     string
		Port     int
		Token    TokenValue
		User     string
		ExpireAt time.Time
	}

	// Option configures a Server.
	Option func(*Server)

	// Server is the loopback SSH endpoint.
	// A Server instance is single-use: once stopped or failed, create a new one.
	Server struct {
		cfg    Config
		life   lifecycle
		clock  clock.Clock
		logger *log.Logger

		srvMu    sync.Mutex
		srv      *ssh.Server
		listener net.Listener
		addr     string

		tokenMu sync.RWMutex
		tokens  map[TokenValue]*Token
	}
)

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		User:            "batchsh",
		TokenTTL:        time.Hour,
		DefaultShell:    "/bin/sh",
		ShutdownTimeout: 10 * time.Second,
		StartupTimeout:  5 * time.Second,
	}
}

// Validate checks every field and collects the failures.
func (c Config) Validate() error {
	var errs []error
	if err := c.Host.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 0-65535", c.Port))
	}
	if c.Token != "" {
		if err := c.Token.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DefaultShell == "" {
		errs = append(errs, fmt.Errorf("default shell must be set"))
	}
	if len(errs) > 0 {
		return &InvalidSSHConfigError{FieldErrors: errs}
	}
	return nil
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock sets the clock used for token expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a server. It is not started; call Start to accept connections.
func New(cfg Config, opts ...Option) (*Server, error) {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.User == "" {
		cfg.User = def.User
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.DefaultShell == "" {
		cfg.DefaultShell = def.DefaultShell
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = def.StartupTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		life:   newLifecycle(),
		clock:  clock.RealClock{},
		tokens: make(map[TokenValue]*Token),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithPrefix("ssh-server")

	if cfg.Token != "" {
		s.tokens[cfg.Token] = &Token{Value: cfg.Token, Label: "static", CreatedAt: s.clock.Now()}
	}
	return s, nil
}

func (s *Server) newWishServer(addr string) (*ssh.Server, error) {
	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithPublicKeyAuth(s.publicKeyHandler),
		wish.WithMiddleware(s.commandMiddleware()),
	}
	if !s.cfg.DisableSFTP {
		opts = append(opts, withSubsystem("sftp", s.sftpHandler))
	}
	return wish.NewServer(opts...)
}

// withSubsystem registers a subsystem handler on the server.
func withSubsystem(name string, h ssh.SubsystemHandler) ssh.Option {
	return func(srv *ssh.Server) error {
		if srv.SubsystemHandlers == nil {
			srv.SubsystemHandlers = map[string]ssh.SubsystemHandler{}
		}
		srv.SubsystemHandlers[name] = h
		return nil
	}
}

// Address returns the bound "host:port", or "" before the server runs.
func (s *Server) Address() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.addr
}

// Port returns the bound port, or 0 before the server runs.
func (s *Server) Port() int {
	_, portStr, err := net.SplitHostPort(s.Address())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// Location returns the remote location clients dial.
func (s *Server) Location() types.Location {
	return types.Location("ssh://" + s.Address())
}

// GenerateToken issues a token that expires after the configured TTL.
func (s *Server) GenerateToken(label string) (*Token, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.clock.Now()
	token := &Token{
		Value:     TokenValue(hex.EncodeToString(buf)),
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}

	s.tokenMu.Lock()
	s.tokens[token.Value] = token
	s.tokenMu.Unlock()

	s.logger.Debug("Generated token", "label", label)
	return token, nil
}

// ValidateToken returns the token for value if it exists and has not expired.
func (s *Server) ValidateToken(value TokenValue) (*Token, bool) {
	s.tokenMu.RLock()
	var found *Token
	for v, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(v), []byte(value)) == 1 {
			found = t
		}
	}
	s.tokenMu.RUnlock()

	if found == nil {
		return nil, false
	}
	if !found.ExpiresAt.IsZero() && s.clock.Now().After(found.ExpiresAt) {
		s.RevokeToken(value)
		return nil, false
	}
	return found, true
}

// RevokeToken invalidates a token.
func (s *Server) RevokeToken(value TokenValue) {
	s.tokenMu.Lock()
	delete(s.tokens, value)
	s.tokenMu.Unlock()
}

// RevokeTokensForLabel invalidates every token issued for label.
func (s *Server) RevokeTokensForLabel(label string) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	for v, t := range s.tokens {
		if t.Label == label {
			delete(s.tokens, v)
		}
	}
}

// ConnectionInfo issues a token for label and returns what a client needs
// to log in. The server must be running.
func (s *Server) ConnectionInfo(label string) (*ConnectionInfo, error) {
	if !s.IsRunning() {
		return nil, fmt.Errorf("SSH server is not running (state: %s)", s.State())
	}

	token, err := s.GenerateToken(label)
	if err != nil {
		return nil, err
	}

	return &ConnectionInfo{
		Host:     s.cfg.Host.String(),
		Port:     s.Port(),
		Token:    token.Value,
		User:     s.cfg.User,
		ExpireAt: token.ExpiresAt,
	}, nil
}

// Location returns the address of the server as a remote location.
func (c *ConnectionInfo) Location() types.Location {
	return types.Location("ssh://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)))
}

// Credential returns the password credential carrying the token.
func (c *ConnectionInfo) Credential() credential.Password {
	return credential.Password{User: c.User, Secret: string(c.Token)}
}

// cleanupExpiredTokens periodically drops expired tokens.
func (s *Server) cleanupExpiredTokens() {
	defer s.life.wg.Done()

	ctx := s.life.context()
	if ctx == nil {
		return
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clock.Now()
			s.tokenMu.Lock()
			for v, t := range s.tokens {
				if !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt) {
					delete(s.tokens, v)
				}
			}
			s.tokenMu.Unlock()
		}
	}
}

// passwordHandler accepts valid tokens as passwords.
func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	token, ok := s.ValidateToken(TokenValue(password))
	if !ok {
		s.logger.Warn("Invalid token authentication attempt", "user", ctx.User())
		return false
	}
	ctx.SetValue("token-label", token.Label)
	s.logger.Debug("Token authentication successful", "label", token.Label)
	return true
}

// publicKeyHandler accepts the configured authorized keys.
func (s *Server) publicKeyHandler(ctx ssh.Context, key ssh.PublicKey) bool {
	for _, k := range s.cfg.AuthorizedKeys {
		if ssh.KeysEqual(k, key) {
			s.logger.Debug("Public key authentication successful", "user", ctx.User())
			return true
		}
	}
	return false
}
