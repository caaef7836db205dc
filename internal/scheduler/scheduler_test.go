package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/priority"
	"github.com/poltergeist/poltergeist/internal/statestore"
	"github.com/poltergeist/poltergeist/internal/types"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	log := logger.NewForWriter(&discard{}, "error")
	return statestore.New(t.TempDir(), "/project", log)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func waitForOutcome(t *testing.T, ch chan BuildOutcome, timeout time.Duration) BuildOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(timeout):
		t.Fatal("timed out waiting for build outcome")
		return BuildOutcome{}
	}
}

func TestSchedulerRunsSingleBuild(t *testing.T) {
	store := newTestStore(t)
	log := logger.NewForWriter(&discard{}, "error")
	b := builder.New(t.TempDir(), log)
	pri := priority.New(priority.Config{})

	outcomes := make(chan BuildOutcome, 4)
	var mu sync.Mutex
	sched := New(store, b, pri, log, statestore.ProcessInfo{PID: 1, Hostname: "h", Active: true, LastHeartbeat: time.Now()}, 2, nil, func(o BuildOutcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes <- o
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	target := &types.Target{Name: "app", Kind: types.KindExecutable, BuildCommand: "true", WatchPaths: []string{"."}}
	sched.Enqueue(target, []string{"main.go"}, false)

	o := waitForOutcome(t, outcomes, 5*time.Second)
	if o.Target != "app" {
		t.Fatalf("got outcome for %q", o.Target)
	}
	if !o.Result.Success {
		t.Fatalf("expected success, got %+v", o.Result)
	}
}

func TestSchedulerMergesFollowUpWhileBuilding(t *testing.T) {
	store := newTestStore(t)
	log := logger.NewForWriter(&discard{}, "error")
	b := builder.New(t.TempDir(), log)
	pri := priority.New(priority.Config{})

	outcomes := make(chan BuildOutcome, 4)
	sched := New(store, b, pri, log, statestore.ProcessInfo{PID: 1, Hostname: "h", Active: true, LastHeartbeat: time.Now()}, 1, nil, func(o BuildOutcome) {
		outcomes <- o
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	target := &types.Target{Name: "slow", Kind: types.KindExecutable, BuildCommand: "sleep 0.2", WatchPaths: []string{"."}}
	sched.Enqueue(target, []string{"a.go"}, false)
	time.Sleep(20 * time.Millisecond)
	sched.Enqueue(target, []string{"b.go"}, false)

	first := waitForOutcome(t, outcomes, 5*time.Second)
	if !first.FollowUp {
		t.Fatalf("expected first build to be marked with a follow-up pending")
	}
	second := waitForOutcome(t, outcomes, 5*time.Second)
	if second.Target != "slow" {
		t.Fatalf("expected the follow-up build to run for the same target")
	}
}

func TestSchedulerRetriesFailedBuild(t *testing.T) {
	store := newTestStore(t)
	log := logger.NewForWriter(&discard{}, "error")
	b := builder.New(t.TempDir(), log)
	pri := priority.New(priority.Config{})

	outcomes := make(chan BuildOutcome, 4)
	sched := New(store, b, pri, log, statestore.ProcessInfo{PID: 1, Hostname: "h", Active: true, LastHeartbeat: time.Now()}, 1, nil, func(o BuildOutcome) {
		outcomes <- o
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	target := &types.Target{
		Name: "flaky", Kind: types.KindExecutable, BuildCommand: "false",
		WatchPaths: []string{"."}, MaxRetries: 1, BackoffMultiplier: 1.0,
	}
	sched.Enqueue(target, []string{"a.go"}, false)

	first := waitForOutcome(t, outcomes, 5*time.Second)
	if first.Result.Success {
		t.Fatalf("expected failure")
	}
	second := waitForOutcome(t, outcomes, 5*time.Second)
	if second.Target != "flaky" {
		t.Fatalf("expected a retried build for the same target")
	}
}
