package statestore

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/internal/apperrors"
	"github.com/poltergeist/poltergeist/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewForWriter(io.Discard, "error")
	return New(dir, "/projects/demo", log)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	st := &TargetState{
		Target:      "app",
		TargetType:  "executable",
		ProjectPath: "/projects/demo",
		Process:     ProcessInfo{PID: 123, Hostname: "host", Active: true, LastHeartbeat: time.Now()},
		LastBuild:   &LastBuild{Status: "success", Timestamp: time.Now()},
	}
	if err := s.Write(st); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("app")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got == nil || got.Target != "app" || got.LastBuild.Status != "success" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestUnknownFieldsPreserved(t *testing.T) {
	s := newTestStore(t)
	st := &TargetState{Target: "app", ProjectPath: "/projects/demo"}
	if err := s.Write(st); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := s.statePath("app")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data = append(data[:len(data)-1], []byte(`,"futureField":"kept"}`)...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := s.Read("app")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, err := s.Update("app", func(ts *TargetState) { ts.ProjectName = "demo" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after update: %v", err)
	}
	if !contains(string(data), "futureField") {
		t.Fatalf("expected unknown field preserved across rewrite, got %s", data)
	}
	_ = got
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestCorruptStateTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(s.stateDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := s.statePath("app")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := s.Read("app")
	if err != nil {
		t.Fatalf("Read returned error, want nil/nil: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state for corrupt file, got %+v", got)
	}
}

func TestStaleLockOverride(t *testing.T) {
	s := newTestStore(t)
	st := &TargetState{
		Target:      "t",
		ProjectPath: "/projects/demo",
		Process:     ProcessInfo{PID: 99999, Active: true, LastHeartbeat: time.Now().Add(-time.Hour)},
		LastBuild:   &LastBuild{Status: "building", Timestamp: time.Now().Add(-time.Hour)},
	}
	if err := s.Write(st); err != nil {
		t.Fatalf("Write: %v", err)
	}

	locked, err := s.IsLocked("t")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatalf("expected stale lock to report unlocked")
	}

	claimed, err := s.Claim("t", ProcessInfo{PID: 1, Hostname: "new-host"})
	if err != nil {
		t.Fatalf("Claim should succeed over a stale lock: %v", err)
	}
	if claimed.Process.PID != 1 {
		t.Fatalf("expected claim to overwrite process block, got %+v", claimed.Process)
	}
}

func TestClaimRejectsLiveForeignOwner(t *testing.T) {
	s := newTestStore(t)
	owner := ProcessInfo{PID: 42, Hostname: "owner-host"}
	if _, err := s.Claim("t", owner); err != nil {
		t.Fatalf("initial claim: %v", err)
	}

	_, err := s.Claim("t", ProcessInfo{PID: 43, Hostname: "other-host"})
	if err == nil {
		t.Fatalf("expected ALREADY_OWNED for a live foreign owner")
	}
	if !errors.Is(err, apperrors.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write(&TargetState{Target: "t", ProjectPath: "/projects/demo"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = s.Update("t", func(st *TargetState) {
				st.BuildHistory.BuildCount++
			})
		}(i)
	}
	wg.Wait()

	got, err := s.Read("t")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.BuildHistory.BuildCount != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", got.BuildHistory.BuildCount)
	}
}
