// Package controller owns one target's in-memory pending-file set and
// settling timer, and runs its post-build hooks.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/notifier"
	"github.com/poltergeist/poltergeist/internal/safegroup"
	"github.com/poltergeist/poltergeist/internal/statestore"
	"github.com/poltergeist/poltergeist/internal/types"
)

// DispatchFunc enqueues a build for target with the given changed files.
type DispatchFunc func(target *types.Target, changedFiles []string)

// Controller owns the pending set and settling timer for one target.
type Controller struct {
	target   *types.Target
	projectRoot string
	dispatch DispatchFunc
	log      logger.Logger
	store    *statestore.Store

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// New creates a Controller for target.
func New(target *types.Target, projectRoot string, dispatch DispatchFunc, store *statestore.Store, log logger.Logger) *Controller {
	return &Controller{
		target:      target,
		projectRoot: projectRoot,
		dispatch:    dispatch,
		store:       store,
		log:         log.WithTarget(target.Name),
		pending:     make(map[string]struct{}),
	}
}

// OnChanges handles a notifier batch: filters to existing, non-deletion
// entries, folds them into the pending set, and (re)arms the settling
// timer. An empty or deletion-only batch triggers no build.
func (c *Controller) OnChanges(changes []notifier.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := false
	for _, ch := range changes {
		if !ch.Exists {
			continue
		}
		c.pending[ch.Path] = struct{}{}
		added = true
	}
	if !added {
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	delay := time.Duration(c.target.GetSettlingDelay()) * time.Millisecond
	c.timer = time.AfterFunc(delay, c.fire)
}

func (c *Controller) fire() {
	c.mu.Lock()
	files := make([]string, 0, len(c.pending))
	for f := range c.pending {
		files = append(files, f)
	}
	c.pending = make(map[string]struct{})
	c.mu.Unlock()

	if len(files) == 0 {
		return
	}
	c.dispatch(c.target, files)
}

// CancelTimer stops any armed settling timer, part of the daemon's
// shutdown sequence.
func (c *Controller) CancelTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

// hookResult is the structured JSON a hook may print as its whole output
// (surrounding whitespace ignored); hooks that print anything else,
// or JSON without a summary, get their first maxHookLines
// output lines captured as Lines with Status inferred from exit code.
type hookResult struct {
	Summary string   `json:"summary"`
	Lines   []string `json:"lines"`
	Status  string   `json:"status"`
}

const maxHookLines = 50

// RunHooks runs the post-build hooks declared on target whose RunOn
// condition matches success, serialized per target (sequential here)
// but the caller fans multiple targets' hook runs out concurrently.
// Hook failures and timeouts are recorded in the returned results and
// never alter the build's own status.
func (c *Controller) RunHooks(ctx context.Context, success bool, exitCode int, stderrTail string) []statestore.PostBuildResult {
	results := make([]statestore.PostBuildResult, 0, len(c.target.PostBuildHooks))
	for _, hook := range c.target.PostBuildHooks {
		if !hook.Matches(success) {
			continue
		}
		results = append(results, c.runHook(ctx, hook.Command, exitCode, stderrTail))
	}
	return results
}

func (c *Controller) runHook(ctx context.Context, command string, exitCode int, stderrTail string) statestore.PostBuildResult {
	hookCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, "sh", "-c", command)
	cmd.Dir = c.projectRoot
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("POLTERGEIST_BUILD_EXIT_CODE=%d", exitCode),
		fmt.Sprintf("POLTERGEIST_BUILD_STDERR_TAIL=%s", stderrTail),
	)

	start := time.Now()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	duration := time.Since(start)

	result := statestore.PostBuildResult{Name: command, DurationMS: duration.Milliseconds()}

	if hookCtx.Err() == context.DeadlineExceeded {
		result.Status = "timeout"
		c.log.Warn("post-build hook timed out", logger.WithField("hook", command))
		return result
	}
	if err != nil {
		result.Status = "failure"
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}
		c.log.Warn("post-build hook failed", logger.WithField("hook", command), logger.WithField("error", err.Error()))
	} else {
		result.Status = "success"
	}

	var structured hookResult
	if json.Unmarshal(bytes.TrimSpace(out.Bytes()), &structured) == nil && structured.Summary != "" {
		result.Summary = structured.Summary
		result.Lines = truncateLines(structured.Lines, maxHookLines)
	} else {
		result.Lines = truncateLines(strings.Split(out.String(), "\n"), maxHookLines)
	}
	return result
}

func truncateLines(lines []string, max int) []string {
	if len(lines) <= max {
		return lines
	}
	return lines[:max]
}

// RunHooksForTargets runs RunHooks for several controllers concurrently
// via a shared safegroup — hooks are serialized per target but
// parallel across targets.
func RunHooksForTargets(ctx context.Context, jobs map[*Controller]struct {
	Success    bool
	ExitCode   int
	StderrTail string
}) map[*Controller][]statestore.PostBuildResult {
	var mu sync.Mutex
	results := make(map[*Controller][]statestore.PostBuildResult, len(jobs))

	var groupLog logger.Logger
	for ctrl := range jobs {
		groupLog = ctrl.log
		break
	}

	g, gctx := safegroup.New(ctx, groupLog)
	for ctrl, job := range jobs {
		ctrl, job := ctrl, job
		g.Go(func() error {
			r := ctrl.RunHooks(gctx, job.Success, job.ExitCode, job.StderrTail)
			mu.Lock()
			results[ctrl] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
