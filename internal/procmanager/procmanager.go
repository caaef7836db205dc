// Package procmanager provides process liveness checks and
// graceful-then-forced termination, plus the daemon's own shutdown
// handler registration and signal handling.
package procmanager

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goPS "github.com/mitchellh/go-ps"
	"github.com/poltergeist/poltergeist/internal/logger"
)

// IsAlive reports whether pid refers to a running process on this host.
// Uses a signal-0 probe only (the OS confirms existence without
// delivering anything); a pid recycled by an unrelated program is
// reported alive. OwnsProcessImage is the separate process-table check.
func IsAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}

// OwnsProcessImage reports whether pid's executable name matches one of
// the expected poltergeist binary names, distinguishing a genuinely
// foreign process from a stale record whose pid was simply reused.
func OwnsProcessImage(pid int, expectedNames ...string) bool {
	p, err := goPS.FindProcess(pid)
	if err != nil || p == nil {
		return false
	}
	exe := p.Executable()
	for _, name := range expectedNames {
		if exe == name {
			return true
		}
	}
	return false
}

// Terminate sends SIGTERM, waits up to grace for the process to exit,
// then sends SIGKILL if it hasn't.
func Terminate(pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return nil
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !IsAlive(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !IsAlive(pid) {
		return nil
	}
	return proc.Kill()
}

// Manager runs the daemon's signal-driven shutdown sequence: handlers
// registered via RegisterShutdownHandler run in reverse order on
// SIGINT/SIGTERM/SIGHUP.
type Manager struct {
	log      logger.Logger
	handlers []func()
	sigCh    chan os.Signal
	done     chan struct{}
}

// New creates a Manager.
func New(log logger.Logger) *Manager {
	return &Manager{log: log, sigCh: make(chan os.Signal, 1), done: make(chan struct{})}
}

// RegisterShutdownHandler appends a handler run during orderly shutdown.
func (m *Manager) RegisterShutdownHandler(h func()) {
	m.handlers = append(m.handlers, h)
}

// Start begins listening for termination signals. Stop or context
// cancellation ends the listener.
func (m *Manager) Start(ctx context.Context) {
	signal.Notify(m.sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		select {
		case sig := <-m.sigCh:
			m.log.Info("received signal, shutting down", logger.WithField("signal", sig.String()))
			m.runHandlers()
		case <-ctx.Done():
		case <-m.done:
		}
	}()
}

// Stop ends signal listening without running handlers (used when the
// caller has already run its own shutdown sequence).
func (m *Manager) Stop() {
	signal.Stop(m.sigCh)
	close(m.done)
}

func (m *Manager) runHandlers() {
	for i := len(m.handlers) - 1; i >= 0; i-- {
		m.handlers[i]()
	}
}
