// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/ssh"
)

const (
	// StateCreated indicates the server has been created but not started.
	StateCreated State = iota
	// StateStarting indicates the server is binding its listener.
	StateStarting
	// StateRunning indicates the server is accepting connections.
	StateRunning
	// StateStopping indicates the server is shutting down.
	StateStopping
	// StateStopped indicates the server has stopped (terminal state).
	StateStopped
	// StateFailed indicates the server failed to start or serve (terminal state).
	StateFailed
)

type (
	// State is the lifecycle state of a Server.
	State int32

	// lifecycle tracks the single-use Created -> Running -> Stopped
	// progression of a server and its background goroutines.
	lifecycle struct {
		state atomic.Int32

		mu      sync.Mutex
		ctx     context.Context
		cancel  context.CancelFunc
		wg      sync.WaitGroup
		started chan struct{}
		errCh   chan error
		lastErr error
	}
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func newLifecycle() lifecycle {
	return lifecycle{
		started: make(chan struct{}),
		errCh:   make(chan error, 1),
	}
}

func (l *lifecycle) current() State { return State(l.state.Load()) }

// toStarting must be called first in Start.
func (l *lifecycle) toStarting(ctx context.Context) error {
	// A cancelled context must fail before the serve goroutine can mark the
	// server running.
	if err := ctx.Err(); err != nil {
		l.fail(fmt.Errorf("context cancelled before start: %w", err))
		return l.lastError()
	}
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", l.current())
	}
	l.mu.Lock()
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.mu.Unlock()
	return nil
}

func (l *lifecycle) toRunning() {
	if l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(l.started)
	}
}

func (l *lifecycle) fail(err error) {
	l.mu.Lock()
	l.lastErr = err
	cancel := l.cancel
	l.mu.Unlock()

	l.state.Store(int32(StateFailed))
	if cancel != nil {
		cancel()
	}
	l.report(err)
}

// toStopping reports whether the caller owns the shutdown.
func (l *lifecycle) toStopping() bool {
	for {
		cur := l.current()
		switch cur {
		case StateCreated:
			if l.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if l.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
				l.mu.Lock()
				cancel := l.cancel
				l.mu.Unlock()
				if cancel != nil {
					cancel()
				}
				return true
			}
		default:
			return false
		}
	}
}

func (l *lifecycle) report(err error) {
	select {
	case l.errCh <- err:
	default:
	}
}

func (l *lifecycle) lastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *lifecycle) context() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}

// Start binds the listener and serves in the background. It returns once
// the server accepts connections, or with the error that prevented it.
// After Start returns nil, use Err to monitor runtime failures.
func (s *Server) Start(ctx context.Context) error {
	if err := s.life.toStarting(ctx); err != nil {
		return err
	}

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host.String(), fmt.Sprint(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(startupCtx, "tcp", addr)
	if err != nil {
		s.life.fail(fmt.Errorf("failed to listen on %s: %w", addr, err))
		return s.life.lastError()
	}

	srv, err := s.newWishServer(addr)
	if err != nil {
		_ = listener.Close()
		s.life.fail(fmt.Errorf("failed to create SSH server: %w", err))
		return s.life.lastError()
	}

	s.srvMu.Lock()
	s.listener = listener
	s.addr = listener.Addr().String()
	s.srv = srv
	s.srvMu.Unlock()

	s.life.wg.Add(2)
	go s.serve(srv, listener)
	go s.cleanupExpiredTokens()

	select {
	case <-s.life.started:
		s.logger.Info("SSH server started", "address", s.addr)
		return nil
	case err := <-s.life.errCh:
		s.life.fail(err)
		return err
	case <-startupCtx.Done():
		s.life.fail(fmt.Errorf("startup timeout: %w", startupCtx.Err()))
		return s.life.lastError()
	}
}

// Stop shuts the server down, waiting up to the shutdown timeout for open
// sessions. Safe to call multiple times.
func (s *Server) Stop() error {
	if !s.life.toStopping() {
		s.life.wg.Wait()
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	s.srvMu.Lock()
	if s.srv != nil {
		shutdownErr = s.srv.Shutdown(shutdownCtx)
		if shutdownErr != nil && isClosedConnError(shutdownErr) {
			shutdownErr = nil
		}
		if errors.Is(shutdownErr, context.DeadlineExceeded) {
			// Sessions still open after the grace period are cut.
			shutdownErr = s.srv.Close()
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.srvMu.Unlock()

	s.life.wg.Wait()
	s.life.state.Store(int32(StateStopped))
	close(s.life.errCh)
	s.logger.Info("SSH server stopped")

	if shutdownErr != nil && !isClosedConnError(shutdownErr) {
		return shutdownErr
	}
	return nil
}

// Wait blocks until the server stops and returns the failure, if any.
func (s *Server) Wait() error {
	s.life.wg.Wait()
	if s.State() == StateFailed {
		return s.life.lastError()
	}
	return nil
}

// Err returns a channel that receives fatal server errors. It is closed
// once the server has stopped.
func (s *Server) Err() <-chan error { return s.life.errCh }

// State returns the current lifecycle state.
func (s *Server) State() State { return s.life.current() }

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool { return s.State() == StateRunning }

func (s *Server) serve(srv *ssh.Server, listener net.Listener) {
	defer s.life.wg.Done()

	s.life.toRunning()

	err := srv.Serve(listener)
	if err == nil || errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return
	}
	s.life.report(fmt.Errorf("serve error: %w", err))
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ssh.ErrServerClosed)
}
