// Package builder runs one target's build command in a child process,
// streams output to a log sink, and returns a structured result.
// A single Builder dispatches Build/Validate on types.TargetKind via
// a switch, rather than a separate type per kind.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/poltergeist/poltergeist/internal/apperrors"
	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/types"
)

// maxCapturedOutput bounds the in-memory ring kept per build, so a
// chatty build command can't grow the daemon's memory unbounded.
const maxCapturedOutput = 64 * 1024

// Result is the structured outcome of one build.
type Result struct {
	Success    bool
	ExitCode   int
	Duration   time.Duration
	Stdout     string
	Stderr     string
	Err        error
}

// Builder runs build commands for a project root, logging to per-target
// log files under .poltergeist/logs.
type Builder struct {
	projectRoot string
	log         logger.Logger

	successCount int
	failureCount int
	lastBuildAt  time.Time
}

// New creates a Builder rooted at projectRoot.
func New(projectRoot string, log logger.Logger) *Builder {
	return &Builder{projectRoot: projectRoot, log: log}
}

// Validate checks a target's build configuration without running it.
func (b *Builder) Validate(t *types.Target) error {
	if t.Name == "" {
		return fmt.Errorf("%w: missing name", apperrors.ErrInvalidTarget)
	}
	if t.BuildCommand == "" {
		return fmt.Errorf("%w: target %q has no buildCommand", apperrors.ErrInvalidTarget, t.Name)
	}
	if len(t.WatchPaths) == 0 {
		return fmt.Errorf("%w: target %q has no watchPaths", apperrors.ErrInvalidTarget, t.Name)
	}
	if info, err := os.Stat(b.projectRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: project root %q does not exist", apperrors.ErrInvalidTarget, b.projectRoot)
	}

	switch t.Kind {
	case types.KindExecutable, types.KindCMakeExecutable:
		if t.OutputPath == "" {
			return fmt.Errorf("%w: executable target %q has no outputPath", apperrors.ErrInvalidTarget, t.Name)
		}
	case types.KindContainerImage:
		if t.Dockerfile == "" || t.ImageName == "" {
			return fmt.Errorf("%w: container target %q needs dockerfile and imageName", apperrors.ErrInvalidTarget, t.Name)
		}
	case types.KindTest:
		if t.TestCommand == "" && t.BuildCommand == "" {
			return fmt.Errorf("%w: test target %q has no testCommand", apperrors.ErrInvalidTarget, t.Name)
		}
	}
	return nil
}

// Build runs t's command, dispatching kind-specific pre/post steps from
// one switch instead of a per-kind type. changedFiles is exposed to the
// command as POLTERGEIST_CHANGED_FILES.
func (b *Builder) Build(ctx context.Context, t *types.Target, changedFiles []string) *Result {
	start := time.Now()
	targetLog := b.log.WithTarget(t.Name)

	command := t.BuildCommand
	switch t.Kind {
	case types.KindTest:
		if t.TestCommand != "" {
			command = t.TestCommand
		}
	case types.KindContainerImage:
		command = dockerBuildCommand(t)
	case types.KindAppBundle:
		if t.AutoRelaunch {
			killRunningApp(t.BundleID)
		}
	case types.KindExecutable, types.KindCMakeExecutable:
		if t.OutputPath != "" {
			_ = os.Remove(b.resolvePath(t.OutputPath))
		}
	}

	logFile, err := b.prepareLogFile(t.Name)
	if err != nil {
		targetLog.Warn("could not open build log file", logger.WithField("error", err.Error()))
	}
	if logFile != nil {
		defer logFile.Close()
	}

	cmd := b.createCommand(ctx, command, t, changedFiles)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutWriters := []io.Writer{boundedWriter{&stdoutBuf}}
	stderrWriters := []io.Writer{boundedWriter{&stderrBuf}}
	if logFile != nil {
		stdoutWriters = append(stdoutWriters, logFile)
		stderrWriters = append(stderrWriters, logFile)
	}
	cmd.Stdout = io.MultiWriter(stdoutWriters...)
	cmd.Stderr = io.MultiWriter(stderrWriters...)

	runErr := cmd.Run()
	duration := time.Since(start)
	b.lastBuildAt = time.Now()

	result := &Result{
		Duration: duration,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}

	if runErr != nil {
		b.failureCount++
		result.Success = false
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		result.Err = fmt.Errorf("%w: %v\n%s", apperrors.ErrBuildFailure, runErr, truncate(stderrBuf.String(), 400))
		return result
	}

	switch t.Kind {
	case types.KindExecutable, types.KindCMakeExecutable:
		if !b.fileExists(t.OutputPath) {
			b.failureCount++
			result.Success = false
			result.Err = fmt.Errorf("%w: build succeeded but output %q was not produced", apperrors.ErrBuildFailure, t.OutputPath)
			return result
		}
		_ = os.Chmod(b.resolvePath(t.OutputPath), 0755)
	case types.KindAppBundle:
		if t.AutoRelaunch {
			relaunchApp(b.resolvePath(t.OutputPath))
		}
	case types.KindTest:
		if t.CoverageFile != "" && !b.fileExists(t.CoverageFile) {
			targetLog.Warn("test target produced no coverage file", logger.WithField("expected", t.CoverageFile))
		}
	}

	b.successCount++
	result.Success = true
	return result
}

// GetSuccessRate returns the fraction of builds that succeeded, for the
// priority engine's success-rate bonus.
func (b *Builder) GetSuccessRate() float64 {
	total := b.successCount + b.failureCount
	if total == 0 {
		return 1.0
	}
	return float64(b.successCount) / float64(total)
}

// LastBuildTime returns when Build last completed.
func (b *Builder) LastBuildTime() time.Time { return b.lastBuildAt }

func dockerBuildCommand(t *types.Target) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "docker build -f %s -t %s", t.Dockerfile, t.ImageName)
	for _, tag := range t.Tags {
		fmt.Fprintf(&sb, " -t %s:%s", t.ImageName, tag)
	}
	ctx := t.Context
	if ctx == "" {
		ctx = "."
	}
	fmt.Fprintf(&sb, " %s", ctx)
	return sb.String()
}

// createCommand runs the build command through a shell, so shell
// operators and builtins (e.g. "exit 3") behave as at a prompt.
func (b *Builder) createCommand(ctx context.Context, command string, t *types.Target, changedFiles []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = b.projectRoot

	env := os.Environ()
	for k, v := range t.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env, fmt.Sprintf("POLTERGEIST_CHANGED_FILES=%s", strings.Join(changedFiles, ",")))
	env = append(env, fmt.Sprintf("POLTERGEIST_TARGET=%s", t.Name))
	cmd.Env = env
	return cmd
}

func (b *Builder) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.projectRoot, p)
}

func (b *Builder) fileExists(p string) bool {
	_, err := os.Stat(b.resolvePath(p))
	return err == nil
}

func (b *Builder) prepareLogFile(targetName string) (*os.File, error) {
	logDir := filepath.Join(b.projectRoot, ".poltergeist", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(logDir, targetName+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// boundedWriter caps how much a single buffer retains, keeping the most
// recent maxCapturedOutput bytes and discarding older output.
type boundedWriter struct {
	buf *bytes.Buffer
}

func (w boundedWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if over := w.buf.Len() - maxCapturedOutput; over > 0 {
		w.buf.Next(over)
	}
	return len(p), nil
}

// killRunningApp and relaunchApp are host-specific GUI-relaunch hooks,
// kept as thin exec wrappers so the AppBundle arm of Build has
// something concrete to call; their real behavior is a host script.
func killRunningApp(bundleID string) {
	if bundleID == "" {
		return
	}
	_ = exec.Command("pkill", "-f", bundleID).Run()
}

func relaunchApp(path string) {
	if path == "" {
		return
	}
	cmd := exec.Command(path)
	_ = cmd.Start()
}
