// Package daemon owns one project root at a time: ownership via an
// atomically-written daemon.json, a heartbeat loop, signal-driven
// orderly shutdown, and out-of-process status queries. It wires the
// notifier, the per-target controllers, the scheduler, and the builder
// together and drives the initial build fan-out.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/apperrors"
	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/controller"
	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/metrics"
	"github.com/poltergeist/poltergeist/internal/notifier"
	"github.com/poltergeist/poltergeist/internal/notify"
	"github.com/poltergeist/poltergeist/internal/priority"
	"github.com/poltergeist/poltergeist/internal/procmanager"
	"github.com/poltergeist/poltergeist/internal/safegroup"
	"github.com/poltergeist/poltergeist/internal/scheduler"
	"github.com/poltergeist/poltergeist/internal/statestore"
	"github.com/poltergeist/poltergeist/internal/types"
)

// Info is the daemon.json record: enough for another process to detect
// a live daemon without scanning every target's state file.
type Info struct {
	PID         int       `json:"pid"`
	StartTime   time.Time `json:"startTime"`
	LogFile     string    `json:"logFile"`
	ProjectPath string    `json:"projectPath"`
	ConfigPath  string    `json:"configPath"`
	Hostname    string    `json:"hostname"`
}

// Daemon wires the Notifier, Target Controllers, Scheduler, and Builder
// together for one project root.
type Daemon struct {
	projectRoot string
	configPath  string
	stateDir    string
	cfg         *config.Config
	log         logger.Logger

	store     *statestore.Store
	notifierC *notifier.Notifier
	sched     *scheduler.Scheduler
	procMgr   *procmanager.Manager
	sink      *notify.Sink
	mtx       *metrics.Metrics

	controllers map[string]*controller.Controller
	owner       statestore.ProcessInfo
	daemonPath  string

	stopOnce sync.Once
	stopErr  error
}

// New creates a Daemon. stateDir is the well-known state directory;
// cfg must already be loaded and validated.
func New(projectRoot, configPath, stateDir string, cfg *config.Config, log logger.Logger) *Daemon {
	return &Daemon{
		projectRoot: projectRoot,
		configPath:  configPath,
		stateDir:    stateDir,
		cfg:         cfg,
		log:         log,
		store:       statestore.New(stateDir, projectRoot, log),
		procMgr:     procmanager.New(log),
		sink:        notify.New(true),
		mtx:         metrics.New(),
		controllers: make(map[string]*controller.Controller),
	}
}

func (d *Daemon) daemonInfoPath() string {
	return filepath.Join(d.stateDir, fmt.Sprintf("%x-daemon.json", hashPath(d.projectRoot)))
}

func hashPath(p string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(p); i++ {
		h ^= uint64(p[i])
		h *= 1099511628211
	}
	return h
}

// Start wires every enabled target, connects the notifier, and begins
// watching. Returns ErrAlreadyRunning if a live daemon already owns
// this project root.
func (d *Daemon) Start(ctx context.Context) error {
	d.daemonPath = d.daemonInfoPath()

	if info, live := d.readLiveDaemonInfo(); live {
		return fmt.Errorf("%w: pid %d on %s", apperrors.ErrAlreadyRunning, info.PID, info.Hostname)
	}

	if err := os.MkdirAll(d.stateDir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	hostname, _ := os.Hostname()
	d.owner = statestore.ProcessInfo{
		PID:           os.Getpid(),
		Hostname:      hostname,
		Platform:      "go",
		StartTime:     time.Now(),
		LastHeartbeat: time.Now(),
		Active:        true,
	}

	info := Info{
		PID: d.owner.PID, StartTime: d.owner.StartTime, ProjectPath: d.projectRoot,
		ConfigPath: d.configPath, Hostname: hostname,
	}
	if err := writeJSONAtomic(d.daemonPath, info); err != nil {
		return fmt.Errorf("write daemon info: %w", err)
	}

	targets, parseErrs := d.cfg.ParsedTargets()
	for _, e := range parseErrs {
		d.log.Warn("skipping invalid target", logger.WithField("error", e.Error()))
	}

	b := builder.New(d.projectRoot, d.log)
	pri := priority.New(priority.Config{
		FocusDetectionWindow: time.Duration(d.cfg.Scheduling.FocusDetectionWindowMS) * time.Millisecond,
		DecayTime:            time.Duration(d.cfg.Scheduling.PriorityDecayTimeMS) * time.Millisecond,
	})

	d.sched = scheduler.New(d.store, b, pri, d.log, d.owner, d.cfg.Scheduling.Parallelization, d.mtx, d.onOutcome)
	d.sched.Start(ctx)

	notif, err := notifier.New(notifier.Config{
		UseDefaultExclusions: d.cfg.Notifier.UseDefaultExclusions,
		ExcludeDirs:          d.cfg.Notifier.ExcludeDirs,
		SettlingDelay:        100 * time.Millisecond,
	}, d.log)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrNotifierUnavailable, err)
	}
	d.notifierC = notif

	var enabledNames []string
	g, gctx := safegroup.New(ctx, d.log)
	for _, t := range targets {
		if !t.Enabled {
			continue
		}
		if err := b.Validate(t); err != nil {
			d.log.Warn("skipping invalid target", logger.WithField("target", t.Name), logger.WithField("error", err.Error()))
			continue
		}

		ctrl := controller.New(t, d.projectRoot, d.dispatch, d.store, d.log)
		d.controllers[t.Name] = ctrl
		enabledNames = append(enabledNames, t.Name)

		if err := d.notifierC.Subscribe(d.projectRoot, t.WatchPaths, ctrl.OnChanges); err != nil {
			d.log.Warn("failed to subscribe target", logger.WithField("target", t.Name), logger.WithField("error", err.Error()))
			continue
		}

		t := t
		g.Go(func() error {
			d.sched.Enqueue(t, nil, true)
			return nil
		})
	}
	_ = gctx
	_ = g.Wait()

	d.store.StartHeartbeat(d.owner, enabledNames)
	d.procMgr.RegisterShutdownHandler(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = d.Stop(shutdownCtx)
	})
	d.procMgr.Start(ctx)

	d.log.Info("daemon started", logger.WithField("targets", len(enabledNames)))
	return nil
}

func (d *Daemon) dispatch(t *types.Target, changedFiles []string) {
	d.sched.Enqueue(t, changedFiles, false)
}

func (d *Daemon) onOutcome(o scheduler.BuildOutcome) {
	if o.Result.Success {
		d.sink.BuildSucceeded(o.Target, o.Result.Duration)
	} else {
		d.sink.BuildFailed(o.Target, tail(o.Result.Stderr, 200))
	}

	if ctrl, ok := d.controllers[o.Target]; ok {
		exitCode := 0
		if !o.Result.Success {
			exitCode = o.Result.ExitCode
		}
		results := ctrl.RunHooks(context.Background(), o.Result.Success, exitCode, tail(o.Result.Stderr, 200))
		if len(results) > 0 {
			_, _ = d.store.Update(o.Target, func(st *statestore.TargetState) {
				st.PostBuild = results
			})
		}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Stop runs the orderly shutdown sequence: cancel timers, stop running
// builds, unsubscribe, close the notifier, mark states inactive, delete
// daemon.json. Safe to call more than once (e.g. the CLI's own signal
// wait and procmanager's registered handler can both reach it for the
// same signal) — only the first call runs the sequence.
func (d *Daemon) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.stopErr = d.doStop(ctx)
	})
	return d.stopErr
}

func (d *Daemon) doStop(ctx context.Context) error {
	for _, ctrl := range d.controllers {
		ctrl.CancelTimer()
	}
	if d.sched != nil {
		d.sched.Stop()
	}
	if d.notifierC != nil {
		_ = d.notifierC.Close()
	}

	names := make([]string, 0, len(d.controllers))
	for name := range d.controllers {
		names = append(names, name)
	}
	d.store.MarkInactive(d.owner, names)
	d.store.StopHeartbeat()
	d.procMgr.Stop()

	_ = os.Remove(d.daemonPath)
	d.log.Info("daemon stopped")
	return nil
}

func (d *Daemon) readLiveDaemonInfo() (*Info, bool) {
	data, err := os.ReadFile(d.daemonInfoPath())
	if err != nil {
		return nil, false
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, false
	}
	return &info, procmanager.IsAlive(info.PID)
}

// Status reads daemon.json so a separate process (the CLI, the runner)
// can learn whether a daemon owns projectRoot without holding a lock.
func Status(stateDir, projectRoot string) (*Info, bool, error) {
	path := filepath.Join(stateDir, fmt.Sprintf("%x-daemon.json", hashPath(projectRoot)))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read daemon info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, false, nil
	}
	return &info, procmanager.IsAlive(info.PID), nil
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".daemon-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
