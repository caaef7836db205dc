package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/statestore"
)

func newWaitCmd() *cobra.Command {
	var timeoutSec int
	var targets []string
	var status string
	var pollIntervalSec int

	cmd := &cobra.Command{
		Use:   "wait [target]",
		Short: "Wait for targets to reach a specific build status",
		Long:  `Wait for one or more targets to reach a specific build status. Useful in CI pipelines to block until a build completes.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetName := ""
			if len(args) > 0 {
				targetName = args[0]
			}
			return runWait(targetName, targets, status, timeoutSec, pollIntervalSec)
		},
	}

	cmd.Flags().IntVarP(&timeoutSec, "timeout", "t", 300, "timeout in seconds (0 for no timeout)")
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "specific targets to wait for (comma-separated)")
	cmd.Flags().StringVarP(&status, "status", "s", "succeeded", "status to wait for (succeeded, failed, building, idle)")
	cmd.Flags().IntVar(&pollIntervalSec, "poll-interval", 2, "polling interval in seconds")

	return cmd
}

type waitResult struct {
	Target   string
	Status   string
	TimedOut bool
}

func runWait(targetName string, targets []string, wantStatus string, timeoutSec, pollIntervalSec int) error {
	switch wantStatus {
	case "succeeded", "failed", "building", "idle":
	default:
		return fmt.Errorf("invalid status %q: valid statuses are succeeded, failed, building, idle", wantStatus)
	}

	var names []string
	switch {
	case targetName != "":
		names = []string{targetName}
	case len(targets) > 0:
		names = targets
	default:
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		parsed, _ := cfg.ParsedTargets()
		for _, t := range parsed {
			names = append(names, t.Name)
		}
		if len(names) == 0 {
			return fmt.Errorf("no targets found to wait for")
		}
	}

	printInfo(fmt.Sprintf("waiting for %d target(s) to reach status %q", len(names), wantStatus))

	ctx := context.Background()
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	store := statestore.New(stateDir, projectRoot, newLogger())
	results, err := waitForTargets(ctx, store, names, wantStatus, time.Duration(pollIntervalSec)*time.Second)
	if err != nil {
		return err
	}
	return displayWaitResults(results, wantStatus)
}

func waitForTargets(ctx context.Context, store *statestore.Store, names []string, wantStatus string, pollInterval time.Duration) ([]waitResult, error) {
	results := make([]waitResult, len(names))
	for i, n := range names {
		results[i] = waitResult{Target: n}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	done := make(map[string]bool)
	check := func() bool {
		allDone := true
		for i, n := range names {
			if done[n] {
				continue
			}
			st, err := store.Read(n)
			if err != nil || st == nil || st.LastBuild == nil {
				allDone = false
				continue
			}
			results[i].Status = st.LastBuild.Status
			if st.LastBuild.Status == wantStatus {
				done[n] = true
			} else {
				allDone = false
			}
		}
		return allDone
	}

	if check() {
		return results, nil
	}

	for {
		select {
		case <-ctx.Done():
			for i, n := range names {
				if !done[n] {
					results[i].TimedOut = true
				}
			}
			return results, nil
		case <-ticker.C:
			if check() {
				return results, nil
			}
		}
	}
}

func displayWaitResults(results []waitResult, wantStatus string) error {
	anyTimedOut := false
	for _, r := range results {
		switch {
		case r.TimedOut:
			anyTimedOut = true
			printWarning(fmt.Sprintf("%s: timed out waiting for %q (last seen: %s)", r.Target, wantStatus, r.Status))
		case r.Status == wantStatus:
			printSuccess(fmt.Sprintf("%s: reached %q", r.Target, wantStatus))
		default:
			printInfo(fmt.Sprintf("%s: %s", r.Target, r.Status))
		}
	}
	if anyTimedOut {
		return fmt.Errorf("timed out waiting for one or more targets")
	}
	return nil
}
