package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/logger"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func writeTarget(t *testing.T, name, buildCmd string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"name":         name,
		"type":         "executable",
		"enabled":      true,
		"buildCommand": buildCmd,
		"watchPaths":   []string{"."},
		"outputPath":   "out/" + name,
		"settlingDelay": 10,
	})
	if err != nil {
		t.Fatalf("marshal target: %v", err)
	}
	return raw
}

func TestDaemonStartStopLifecycle(t *testing.T) {
	projectRoot := t.TempDir()
	stateDir := t.TempDir()
	log := logger.NewForWriter(&discard{}, "error")

	cfg := &config.Config{
		Version: "1.0",
		Targets: []json.RawMessage{writeTarget(t, "app", "mkdir -p out && touch out/app")},
	}

	d := New(projectRoot, filepath.Join(projectRoot, "poltergeist.config.json"), stateDir, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	info, live, err := Status(stateDir, projectRoot)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !live || info == nil {
		t.Fatalf("expected a live daemon after Start")
	}
	if info.PID != os.Getpid() {
		t.Fatalf("expected daemon info to record our own pid")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, live, err = Status(stateDir, projectRoot)
	if err != nil {
		t.Fatalf("Status after stop: %v", err)
	}
	if live {
		t.Fatalf("expected no live daemon after Stop")
	}
}

func TestDaemonStopIsIdempotent(t *testing.T) {
	projectRoot := t.TempDir()
	stateDir := t.TempDir()
	log := logger.NewForWriter(&discard{}, "error")

	cfg := &config.Config{
		Version: "1.0",
		Targets: []json.RawMessage{writeTarget(t, "app", "true")},
	}

	d := New(projectRoot, filepath.Join(projectRoot, "poltergeist.config.json"), stateDir, cfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	done := make(chan error, 2)
	go func() { done <- d.Stop(stopCtx) }()
	go func() { done <- d.Stop(stopCtx) }()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Stop: %v", err)
		}
	}
}

func TestDaemonStartRejectsSecondOwner(t *testing.T) {
	projectRoot := t.TempDir()
	stateDir := t.TempDir()
	log := logger.NewForWriter(&discard{}, "error")

	cfg := &config.Config{
		Version: "1.0",
		Targets: []json.RawMessage{writeTarget(t, "app", "true")},
	}

	d1 := New(projectRoot, filepath.Join(projectRoot, "poltergeist.config.json"), stateDir, cfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d1.Start(ctx); err != nil {
		t.Fatalf("Start d1: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = d1.Stop(stopCtx)
	}()

	d2 := New(projectRoot, filepath.Join(projectRoot, "poltergeist.config.json"), stateDir, cfg, log)
	err := d2.Start(ctx)
	if err == nil {
		t.Fatalf("expected second Start against the same project root to fail")
	}
}
