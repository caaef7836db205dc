// Package runner implements the freshness resolver: an out-of-process
// tool that, given a target name and a binary to run, decides whether
// to execute as-is, wait for an in-flight build, or trigger one.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/poltergeist/poltergeist/internal/apperrors"
	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/daemon"
	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/statestore"
	"github.com/poltergeist/poltergeist/internal/types"
	"github.com/poltergeist/poltergeist/internal/vcs"
)

// pollInterval is how often the resolver re-reads state while waiting
// for an in-progress build.
const pollInterval = 250 * time.Millisecond

// Options configures one resolution.
type Options struct {
	ProjectRoot string
	StateDir    string
	Target      *types.Target
	Args        []string
	Timeout     time.Duration
	Force       bool
	NoWait      bool
}

// Outcome is what the resolver decided to do, for CLI reporting.
type Outcome struct {
	ExitCode int
	Stale    bool
	Waited   bool
}

// Resolve locates the target's binary, waits out or triggers a build
// as needed, and, on success, execs the binary — inheriting stdio —
// returning its exit code.
func Resolve(ctx context.Context, opts Options, log logger.Logger) (*Outcome, error) {
	binaryPath, err := findBinary(opts.ProjectRoot, opts.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBinaryNotFound, err)
	}

	store := statestore.New(opts.StateDir, opts.ProjectRoot, log)
	st, err := store.Read(opts.Target.Name)
	if err != nil {
		return nil, err
	}

	if st == nil {
		log.Warn("no build record found, running binary as-is", logger.WithField("target", opts.Target.Name))
		return execBinary(binaryPath, opts.Args)
	}

	if st.LastBuild != nil && st.LastBuild.Status == "building" && st.IsOwnerLive(time.Now()) {
		if opts.NoWait {
			return nil, fmt.Errorf("build in progress and no-wait was requested")
		}
		final, err := waitForBuild(ctx, store, opts.Target.Name, opts.Timeout, log)
		if err != nil {
			return nil, err
		}
		st = final
	}

	stale, reason := computeStaleness(binaryPath, st, opts)
	if stale {
		log.Info("binary is stale, triggering build", logger.WithField("target", opts.Target.Name), logger.WithField("reason", reason))
		_, live, err := daemon.Status(opts.StateDir, opts.ProjectRoot)
		if err != nil {
			return nil, err
		}
		if live {
			_, err := store.Update(opts.Target.Name, func(ts *statestore.TargetState) {
				ts.LastBuild = &statestore.LastBuild{Status: "building", Timestamp: time.Now()}
			})
			if err != nil {
				return nil, err
			}
			final, err := waitForBuild(ctx, store, opts.Target.Name, opts.Timeout, log)
			if err != nil {
				return nil, err
			}
			st = final
		} else {
			log.Warn("no daemon running, building directly", logger.WithField("target", opts.Target.Name))
			st, err = buildDirectly(ctx, opts, store, log)
			if err != nil {
				return nil, err
			}
		}
	}

	if st.LastBuild != nil && st.LastBuild.Status == "failed" && !opts.Force {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrBuildFailure, st.LastBuild.ErrorSummary)
	}

	outcome, err := execBinary(binaryPath, opts.Args)
	if outcome != nil {
		outcome.Stale = stale
	}
	return outcome, err
}

func waitForBuild(ctx context.Context, store *statestore.Store, target string, timeout time.Duration, log logger.Logger) (*statestore.TargetState, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := store.Read(target)
		if err != nil {
			return nil, err
		}
		if st == nil || st.LastBuild == nil {
			return st, nil
		}
		switch st.LastBuild.Status {
		case "building":
			if !st.IsOwnerLive(time.Now()) {
				return st, nil
			}
		default:
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil, fmt.Errorf("%w: target %q after %s", apperrors.ErrRunnerTimeout, target, timeout)
}

// computeStaleness checks, in order, binary mtime vs. last build time,
// then VCS revision, then working-tree dirtiness under the target's
// watch paths — short-circuiting at the first signal found stale.
func computeStaleness(binaryPath string, st *statestore.TargetState, opts Options) (bool, string) {
	if st.LastBuild == nil || st.LastBuild.Status != "succeeded" {
		return true, "no successful build on record"
	}

	info, err := os.Stat(binaryPath)
	if err != nil {
		return true, "binary missing"
	}
	if info.ModTime().Before(st.LastBuild.Timestamp) {
		return true, "binary older than last recorded build"
	}

	repo, err := vcs.Open(opts.ProjectRoot)
	if err == nil {
		if head, herr := repo.HeadHash(); herr == nil && st.LastBuild.GitHash != "" && head != st.LastBuild.GitHash {
			return true, "working copy at a different revision than the last build"
		}
		if dirty, derr := repo.IsDirtyUnder(opts.Target.WatchPaths); derr == nil && dirty {
			return true, "working tree has unstaged changes under watch paths"
		}
	}

	return false, ""
}

func buildDirectly(ctx context.Context, opts Options, store *statestore.Store, log logger.Logger) (*statestore.TargetState, error) {
	hostname, _ := os.Hostname()
	owner := statestore.ProcessInfo{
		PID:           os.Getpid(),
		Hostname:      hostname,
		Platform:      "go",
		StartTime:     time.Now(),
		LastHeartbeat: time.Now(),
		Active:        true,
	}
	if _, err := store.Claim(opts.Target.Name, owner); err != nil {
		return nil, err
	}

	b := builder.New(opts.ProjectRoot, log)
	result := b.Build(ctx, opts.Target, nil)

	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	return store.Update(opts.Target.Name, func(st *statestore.TargetState) {
		st.Process.Active = false
		st.TargetType = string(opts.Target.Kind)
		st.LastBuild = &statestore.LastBuild{
			Status:     status,
			Timestamp:  time.Now(),
			DurationMS: result.Duration.Milliseconds(),
			ExitCode:   result.ExitCode,
		}
		if !result.Success && result.Err != nil {
			st.LastBuild.ErrorSummary = result.Err.Error()
		}
		st.BuildHistory.BuildCount++
		if result.Success {
			st.BuildHistory.SuccessCount++
		} else {
			st.BuildHistory.FailureCount++
		}
	})
}

// findBinary looks at the target's declared output path, then a small
// set of conventional fallback locations.
func findBinary(projectRoot string, t *types.Target) (string, error) {
	candidates := []string{}
	if t.OutputPath != "" {
		candidates = append(candidates, filepath.Join(projectRoot, t.OutputPath))
	}
	candidates = append(candidates,
		filepath.Join(projectRoot, t.Name),
		filepath.Join(projectRoot, "build", t.Name),
		filepath.Join(projectRoot, "dist", t.Name),
	)
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("tried: %v", candidates)
}

func execBinary(path string, args []string) (*Outcome, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &Outcome{ExitCode: exitErr.ExitCode()}, nil
		}
		return nil, fmt.Errorf("execute %s: %w", path, err)
	}
	return &Outcome{ExitCode: 0}, nil
}
