package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/notifier"
	"github.com/poltergeist/poltergeist/internal/statestore"
	"github.com/poltergeist/poltergeist/internal/types"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestOnChangesFiresAfterSettlingDelay(t *testing.T) {
	target := &types.Target{Name: "app", SettlingDelayMS: 20, WatchPaths: []string{"."}}
	log := logger.NewForWriter(&discard{}, "error")
	store := statestore.New(t.TempDir(), "/project", log)

	var mu sync.Mutex
	var dispatched []string
	ctrl := New(target, t.TempDir(), func(tg *types.Target, files []string) {
		mu.Lock()
		defer mu.Unlock()
		dispatched = append(dispatched, files...)
	}, store, log)

	ctrl.OnChanges([]notifier.Change{{Path: "a.go", ChangeType: types.ChangeModified, Exists: true}})

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 1 || dispatched[0] != "a.go" {
		t.Fatalf("expected one dispatched file, got %v", dispatched)
	}
}

func TestOnChangesIgnoresDeletionOnlyBatch(t *testing.T) {
	target := &types.Target{Name: "app", SettlingDelayMS: 10, WatchPaths: []string{"."}}
	log := logger.NewForWriter(&discard{}, "error")
	store := statestore.New(t.TempDir(), "/project", log)

	called := false
	ctrl := New(target, t.TempDir(), func(tg *types.Target, files []string) {
		called = true
	}, store, log)

	ctrl.OnChanges([]notifier.Change{{Path: "a.go", ChangeType: types.ChangeDeleted, Exists: false}})
	time.Sleep(50 * time.Millisecond)
	if called {
		t.Fatalf("expected a deletion-only batch to trigger nothing")
	}
}

func TestOnChangesCoalescesRapidBursts(t *testing.T) {
	target := &types.Target{Name: "app", SettlingDelayMS: 50, WatchPaths: []string{"."}}
	log := logger.NewForWriter(&discard{}, "error")
	store := statestore.New(t.TempDir(), "/project", log)

	var mu sync.Mutex
	calls := 0
	var lastFiles []string
	ctrl := New(target, t.TempDir(), func(tg *types.Target, files []string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		lastFiles = files
	}, store, log)

	ctrl.OnChanges([]notifier.Change{{Path: "a.go", Exists: true}})
	time.Sleep(10 * time.Millisecond)
	ctrl.OnChanges([]notifier.Change{{Path: "b.go", Exists: true}})

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one coalesced dispatch, got %d", calls)
	}
	if len(lastFiles) != 2 {
		t.Fatalf("expected both files folded into one batch, got %v", lastFiles)
	}
}

func TestRunHooksRecordsSuccessAndFailure(t *testing.T) {
	target := &types.Target{
		Name: "app",
		PostBuildHooks: []types.PostBuildHook{
			{Command: "true", RunOn: types.RunOnSuccess},
			{Command: "false", RunOn: types.RunOnAlways},
		},
	}
	log := logger.NewForWriter(&discard{}, "error")
	store := statestore.New(t.TempDir(), "/project", log)
	ctrl := New(target, t.TempDir(), nil, store, log)

	results := ctrl.RunHooks(context.Background(), true, 0, "")
	if len(results) != 2 {
		t.Fatalf("expected 2 hook results, got %d", len(results))
	}
	if results[0].Status != "success" {
		t.Fatalf("expected first hook to succeed, got %q", results[0].Status)
	}
	if results[1].Status != "failure" {
		t.Fatalf("expected second hook to fail, got %q", results[1].Status)
	}
}

func TestRunHooksSkipsMismatchedRunOn(t *testing.T) {
	target := &types.Target{
		Name: "app",
		PostBuildHooks: []types.PostBuildHook{
			{Command: "true", RunOn: types.RunOnFailure},
			{Command: "false", RunOn: types.RunOnSuccess},
		},
	}
	log := logger.NewForWriter(&discard{}, "error")
	store := statestore.New(t.TempDir(), "/project", log)
	ctrl := New(target, t.TempDir(), nil, store, log)

	results := ctrl.RunHooks(context.Background(), true, 0, "")
	if len(results) != 0 {
		t.Fatalf("expected no hooks to run on a success outcome, got %d", len(results))
	}
}
