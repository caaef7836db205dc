// Package scheduler implements the build queue: a bounded-parallelism
// queue that orders pending target builds by priority, enforces
// per-target mutual exclusion via the state store, merges follow-up
// changes instead of accumulating requests, retries with backoff, and
// applies a soft (observational) timeout.
//
// One goroutine drives the whole queue via a select over (enqueue OR
// build-completion OR retry-timer), plus a 50 ms ticker that re-checks
// for a free slot and pending work.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poltergeist/poltergeist/internal/apperrors"
	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/metrics"
	"github.com/poltergeist/poltergeist/internal/priority"
	"github.com/poltergeist/poltergeist/internal/statestore"
	"github.com/poltergeist/poltergeist/internal/types"
)

const (
	minSoftTimeout    = 10 * time.Second
	retryBaseDelay    = 1 * time.Second
	defaultBuildTimeoutMultiplier = 3.0
)

// BuildOutcome is reported to callers (e.g. the daemon, for
// notifications) after each build finishes.
type BuildOutcome struct {
	Target   string
	RequestID string
	Result   *builder.Result
	FollowUp bool
}

// OutcomeFunc receives every completed build.
type OutcomeFunc func(BuildOutcome)

type pendingEntry struct {
	target   *types.Target
	files    map[string]struct{}
	followUp bool
	force    bool
}

// Scheduler is the single-goroutine build queue.
type Scheduler struct {
	store    *statestore.Store
	build    *builder.Builder
	pri      *priority.Engine
	log      logger.Logger
	metrics  *metrics.Metrics
	owner    statestore.ProcessInfo
	onOutcome OutcomeFunc

	parallelism int

	mu          sync.Mutex
	pending     map[string]*pendingEntry
	building    map[string]context.CancelFunc
	retryCount  map[string]int
	avgDuration map[string]time.Duration

	enqueueCh  chan string
	completeCh chan completion
	retryCh    chan string
	stopCh     chan struct{}
	wg         sync.WaitGroup
	active     sync.WaitGroup
	slots      chan struct{}
}

type completion struct {
	target     string
	targetSpec *types.Target
	requestID  string
	files      []string
	result     *builder.Result
	followUp   bool
}

// New creates a Scheduler. parallelism bounds concurrent builds.
func New(store *statestore.Store, b *builder.Builder, pri *priority.Engine, log logger.Logger, owner statestore.ProcessInfo, parallelism int, m *metrics.Metrics, onOutcome OutcomeFunc) *Scheduler {
	if parallelism <= 0 {
		parallelism = 2
	}
	return &Scheduler{
		store:       store,
		build:       b,
		pri:         pri,
		log:         log,
		metrics:     m,
		owner:       owner,
		onOutcome:   onOutcome,
		parallelism: parallelism,
		pending:     make(map[string]*pendingEntry),
		building:    make(map[string]context.CancelFunc),
		retryCount:  make(map[string]int),
		avgDuration: make(map[string]time.Duration),
		enqueueCh:   make(chan string, 256),
		completeCh:  make(chan completion, 64),
		retryCh:     make(chan string, 64),
		stopCh:      make(chan struct{}),
		slots:       make(chan struct{}, parallelism),
	}
}

// Start launches the scheduler's event loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals in-progress builds to terminate, discards pending
// requests, and waits for the loop and any running builds to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.mu.Lock()
	for _, cancel := range s.building {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.active.Wait()
}

// Enqueue admits a build request for target, merging into an
// already-building target's pending set (follow-up) rather than
// queuing a second request.
func (s *Scheduler) Enqueue(target *types.Target, changedFiles []string, force bool) {
	s.mu.Lock()
	entry, ok := s.pending[target.Name]
	if !ok {
		entry = &pendingEntry{target: target, files: make(map[string]struct{})}
		s.pending[target.Name] = entry
	}
	for _, f := range changedFiles {
		entry.files[f] = struct{}{}
	}
	entry.force = entry.force || force

	_, building := s.building[target.Name]
	if building {
		entry.followUp = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.enqueueCh <- target.Name:
	default:
		// channel buffer full; the pending map already has the merged
		// state so the next dispatch tick will still pick it up.
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.enqueueCh:
			s.dispatchNext(ctx)
		case c := <-s.completeCh:
			s.handleCompletion(ctx, c)
		case name := <-s.retryCh:
			s.mu.Lock()
			_, stillPending := s.pending[name]
			s.mu.Unlock()
			if stillPending {
				s.dispatchNext(ctx)
			}
		case <-ticker.C:
			// periodic nudge: a slot may have freed via an external
			// path (e.g. Stop racing a completion); cheap to re-check.
			s.dispatchNext(ctx)
		}
	}
}

// dispatchNext picks the highest-priority admissible target and runs it
// if a slot is free, looping until no slot is free or nothing is ready.
func (s *Scheduler) dispatchNext(ctx context.Context) {
	for {
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}

		name, entry := s.pickNext()
		if entry == nil {
			<-s.slots
			return
		}
		s.runBuild(ctx, name, entry)
	}
}

func (s *Scheduler) pickNext() (string, *pendingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for name, entry := range s.pending {
		if _, building := s.building[name]; building {
			continue
		}
		if len(entry.files) == 0 && !entry.force {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}
	ranked := s.pri.Rank(names, time.Now())
	best := ranked[0].Target
	entry := s.pending[best]
	delete(s.pending, best)
	return best, entry
}

func (s *Scheduler) runBuild(ctx context.Context, name string, entry *pendingEntry) {
	files := make([]string, 0, len(entry.files))
	for f := range entry.files {
		files = append(files, f)
	}

	buildCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.building[name] = cancel
	s.mu.Unlock()

	st, err := s.store.Claim(name, s.owner)
	if err != nil {
		s.log.Warn("target already owned, dropping request", logger.WithField("target", name), logger.WithField("error", err.Error()))
		s.mu.Lock()
		delete(s.building, name)
		s.mu.Unlock()
		<-s.slots
		return
	}
	_ = st

	requestID := uuid.NewString()
	if s.metrics != nil {
		s.metrics.BuildStarted(name)
	}

	s.active.Add(1)
	go func() {
		defer s.active.Done()
		defer func() { <-s.slots }()

		timeout := s.softTimeout(name)
		timer := time.AfterFunc(timeout, func() {
			s.log.Warn("build exceeded expected duration", logger.WithField("target", name), logger.WithField("timeout", timeout.String()))
		})
		result := s.build.Build(buildCtx, entry.target, files)
		timer.Stop()
		cancel()

		s.completeCh <- completion{target: name, targetSpec: entry.target, requestID: requestID, files: files, result: result}
	}()
}

// softTimeout computes a warn-only threshold as averageDuration ×
// buildTimeoutMultiplier, floored at minSoftTimeout. Exceeding it never
// kills the build, only logs a warning.
func (s *Scheduler) softTimeout(target string) time.Duration {
	s.mu.Lock()
	avg := s.avgDuration[target]
	s.mu.Unlock()
	computed := time.Duration(float64(avg) * defaultBuildTimeoutMultiplier)
	return time.Duration(math.Max(float64(minSoftTimeout), float64(computed)))
}

func (s *Scheduler) handleCompletion(ctx context.Context, c completion) {
	s.mu.Lock()
	delete(s.building, c.target)
	entry, hadFollowUp := s.pending[c.target]
	followUp := hadFollowUp && entry.followUp
	if followUp {
		entry.followUp = false
	}
	s.mu.Unlock()

	s.pri.RecordBuildResult(c.target, c.result.Duration, c.result.Success)
	s.mu.Lock()
	if prev, ok := s.avgDuration[c.target]; ok {
		s.avgDuration[c.target] = (prev + c.result.Duration) / 2
	} else {
		s.avgDuration[c.target] = c.result.Duration
	}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.BuildFinished(c.target, c.result.Success, c.result.Duration)
	}

	status := "succeeded"
	var buildErr *statestore.LastBuildError
	if !c.result.Success {
		status = "failed"
		buildErr = &statestore.LastBuildError{
			ExitCode:   c.result.ExitCode,
			Command:    fmt.Sprintf("build %s", c.target),
			StdoutTail: tail(c.result.Stdout, 2000),
			StderrTail: tail(c.result.Stderr, 2000),
			Timestamp:  time.Now(),
		}
	}

	_, _ = s.store.Update(c.target, func(st *statestore.TargetState) {
		st.LastBuild = &statestore.LastBuild{
			Status:       status,
			Timestamp:    time.Now(),
			DurationMS:   c.result.Duration.Milliseconds(),
			ExitCode:     c.result.ExitCode,
			ErrorSummary: errSummary(c.result),
		}
		st.BuildHistory.BuildCount++
		if c.result.Success {
			st.BuildHistory.SuccessCount++
		} else {
			st.BuildHistory.FailureCount++
		}
		st.BuildHistory.LastBuild = st.LastBuild
		st.LastBuildError = buildErr
	})

	s.mu.Lock()
	if c.result.Success {
		s.retryCount[c.target] = 0
	} else {
		s.retryCount[c.target]++
	}
	attempt := s.retryCount[c.target]
	s.mu.Unlock()

	if s.onOutcome != nil {
		s.onOutcome(BuildOutcome{Target: c.target, RequestID: c.requestID, Result: c.result, FollowUp: followUp})
	}

	if !c.result.Success && attempt <= maxRetries(c.targetSpec) {
		s.mu.Lock()
		retryEntry, exists := s.pending[c.target]
		if !exists {
			retryEntry = &pendingEntry{target: c.targetSpec, files: make(map[string]struct{})}
			s.pending[c.target] = retryEntry
		}
		for _, f := range c.files {
			retryEntry.files[f] = struct{}{}
		}
		retryEntry.force = true
		s.mu.Unlock()

		delay := time.Duration(float64(retryBaseDelay) * math.Pow(backoffMultiplier(c.targetSpec), float64(attempt)))
		time.AfterFunc(delay, func() {
			select {
			case s.retryCh <- c.target:
			case <-s.stopCh:
			}
		})
		return
	}

	if followUp {
		select {
		case s.enqueueCh <- c.target:
		case <-s.stopCh:
		}
	}
}

func maxRetries(t *types.Target) int {
	if t == nil {
		return 3
	}
	return t.GetMaxRetries()
}

func backoffMultiplier(t *types.Target) float64 {
	if t == nil {
		return 2.0
	}
	return t.GetBackoffMultiplier()
}

func errSummary(r *builder.Result) string {
	if r.Success {
		return ""
	}
	if r.Err != nil {
		return tail(r.Err.Error(), 400)
	}
	return tail(r.Stderr, 400)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// keeps apperrors imported; runBuild drops a request on any Claim error,
// of which ErrAlreadyOwned is the expected one.
var _ = apperrors.ErrAlreadyOwned
