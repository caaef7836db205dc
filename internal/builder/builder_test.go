package builder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/types"
)

func newTestBuilder(t *testing.T) (*Builder, string) {
	t.Helper()
	root := t.TempDir()
	log := logger.NewForWriter(io.Discard, "error")
	return New(root, log), root
}

func TestValidateRejectsMissingBuildCommand(t *testing.T) {
	b, _ := newTestBuilder(t)
	target := &types.Target{Name: "app", Kind: types.KindExecutable, WatchPaths: []string{"src"}, OutputPath: "out"}
	if err := b.Validate(target); err == nil {
		t.Fatalf("expected error for missing buildCommand")
	}
}

func TestValidateRejectsExecutableWithoutOutputPath(t *testing.T) {
	b, _ := newTestBuilder(t)
	target := &types.Target{Name: "app", Kind: types.KindExecutable, BuildCommand: "true", WatchPaths: []string{"src"}}
	if err := b.Validate(target); err == nil {
		t.Fatalf("expected error for missing outputPath on executable target")
	}
}

func TestBuildExecutableSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-based test command assumes a POSIX shell")
	}
	b, root := newTestBuilder(t)
	outPath := "out/app"
	target := &types.Target{
		Name:         "app",
		Kind:         types.KindExecutable,
		BuildCommand: "mkdir -p out && touch out/app",
		WatchPaths:   []string{"src"},
		OutputPath:   outPath,
	}
	if err := b.Validate(target); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	result := b.Build(context.Background(), target, []string{"src/a.go"})
	if !result.Success {
		t.Fatalf("expected build success, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, outPath)); err != nil {
		t.Fatalf("expected output binary to exist: %v", err)
	}
	if b.GetSuccessRate() != 1.0 {
		t.Fatalf("expected success rate 1.0, got %f", b.GetSuccessRate())
	}
}

func TestBuildFailureRecordsExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-based test command assumes a POSIX shell")
	}
	b, _ := newTestBuilder(t)
	target := &types.Target{
		Name:         "app",
		Kind:         types.KindLibrary,
		BuildCommand: "exit 3",
		WatchPaths:   []string{"src"},
	}
	result := b.Build(context.Background(), target, nil)
	if result.Success {
		t.Fatalf("expected build failure")
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if b.GetSuccessRate() != 0.0 {
		t.Fatalf("expected success rate 0.0, got %f", b.GetSuccessRate())
	}
}
