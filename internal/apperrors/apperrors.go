// Package apperrors defines the sentinel error kinds classified in the
// Poltergeist error handling design. Callers match with errors.Is.
package apperrors

import "errors"

var (
	// ErrConfigInvalid means the loaded configuration failed validation.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrAlreadyRunning means another daemon already owns this project root.
	ErrAlreadyRunning = errors.New("daemon already running")

	// ErrAlreadyOwned means a pid found in a lock or pid file is alive and
	// owned by a process other than the caller.
	ErrAlreadyOwned = errors.New("resource already owned by another process")

	// ErrInvalidTarget means a target failed validation (bad paths, empty
	// command, duplicate name).
	ErrInvalidTarget = errors.New("invalid target")

	// ErrNotifierUnavailable means the file-watch backend could not start.
	ErrNotifierUnavailable = errors.New("notifier unavailable")

	// ErrBuildFailure means a build command exited non-zero.
	ErrBuildFailure = errors.New("build failed")

	// ErrBuildTimeout is a soft, warn-only signal: the build exceeded its
	// expected duration but was not killed.
	ErrBuildTimeout = errors.New("build exceeded expected duration")

	// ErrHookFailure means a post-build hook exited non-zero. Never
	// propagates to the parent build's status.
	ErrHookFailure = errors.New("hook failed")

	// ErrHookTimeout means a post-build hook exceeded its timeout and was
	// killed. Never propagates to the parent build's status.
	ErrHookTimeout = errors.New("hook timed out")

	// ErrStateCorrupt means a state file could not be parsed as JSON.
	ErrStateCorrupt = errors.New("state file corrupt")

	// ErrStaleLock means a lock's owning process is no longer alive or has
	// not heartbeat within the staleness window.
	ErrStaleLock = errors.New("lock is stale")

	// ErrRunnerTimeout means the freshness resolver gave up waiting for a
	// build to finish.
	ErrRunnerTimeout = errors.New("timed out waiting for build")

	// ErrBinaryNotFound means the runner could not locate an executable at
	// the declared or any conventional fallback path.
	ErrBinaryNotFound = errors.New("binary not found")

	// ErrDaemonNotRunning means a stop/status operation found no daemon
	// owning this project root.
	ErrDaemonNotRunning = errors.New("daemon not running")
)
