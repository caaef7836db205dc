package runner

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/statestore"
	"github.com/poltergeist/poltergeist/internal/types"
)

func TestComputeStalenessNoPriorBuild(t *testing.T) {
	stale, reason := computeStaleness("/nonexistent/binary", &statestore.TargetState{}, Options{})
	if !stale {
		t.Fatalf("expected stale with no prior build, got fresh")
	}
	if reason == "" {
		t.Fatalf("expected a reason")
	}
}

func TestComputeStalenessMissingBinary(t *testing.T) {
	st := &statestore.TargetState{
		LastBuild: &statestore.LastBuild{Status: "succeeded", Timestamp: time.Now()},
	}
	stale, _ := computeStaleness("/definitely/does/not/exist", st, Options{})
	if !stale {
		t.Fatalf("expected stale when binary is missing")
	}
}

func TestComputeStalenessFreshBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a unix temp path")
	}
	dir := t.TempDir()
	binPath := filepath.Join(dir, "app")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	st := &statestore.TargetState{
		LastBuild: &statestore.LastBuild{Status: "succeeded", Timestamp: time.Now().Add(-time.Hour)},
	}
	opts := Options{ProjectRoot: dir, Target: &types.Target{WatchPaths: []string{"src/**"}}}
	stale, reason := computeStaleness(binPath, st, opts)
	if stale {
		t.Fatalf("expected fresh binary, got stale: %s", reason)
	}
}

func TestFindBinaryPrefersOutputPath(t *testing.T) {
	dir := t.TempDir()
	mustWriteBinary(t, filepath.Join(dir, "out", "app"))
	target := &types.Target{Name: "app", OutputPath: "out/app"}
	path, err := findBinary(dir, target)
	if err != nil {
		t.Fatalf("findBinary: %v", err)
	}
	if path != filepath.Join(dir, "out", "app") {
		t.Fatalf("got %q", path)
	}
}

func TestFindBinaryFallsBackToConventionalPaths(t *testing.T) {
	dir := t.TempDir()
	mustWriteBinary(t, filepath.Join(dir, "build", "app"))
	target := &types.Target{Name: "app"}
	path, err := findBinary(dir, target)
	if err != nil {
		t.Fatalf("findBinary: %v", err)
	}
	if path != filepath.Join(dir, "build", "app") {
		t.Fatalf("got %q", path)
	}
}

func TestFindBinaryNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := findBinary(dir, &types.Target{Name: "missing"})
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

func mustWriteBinary(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write: %v", err)
	}
}
