package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/apperrors"
	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/statestore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show status of all targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}
}

func newBuildCmd() *cobra.Command {
	var force bool
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "build [target]",
		Short: "Build a target once, without watching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args[0], force, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the lock check and build even if another live process owns the target")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON instead of human-readable text")
	return cmd
}

func newCleanCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale state files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("👻 Poltergeist v%s\n", version)
		},
	}
}

func newLogsCmd() *cobra.Command {
	var follow bool
	var lines int
	cmd := &cobra.Command{
		Use:   "logs [target]",
		Short: "Show build logs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runLogs(name, follow, lines)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}

func runStatus() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := statestore.New(stateDir, projectRoot, newLogger())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tLAST BUILD\tBUILDS\tFAILURES")
	fmt.Fprintln(w, "------\t------\t----------\t------\t--------")

	targets, _ := cfg.ParsedTargets()
	for _, t := range targets {
		st, _ := store.Read(t.Name)
		status, lastBuild, builds, failures := "idle", "-", 0, 0
		if st != nil {
			builds = st.BuildHistory.BuildCount
			failures = st.BuildHistory.FailureCount
			if st.LastBuild != nil {
				status = st.LastBuild.Status
				lastBuild = st.LastBuild.Timestamp.Format("15:04:05")
			}
		}

		colored := status
		switch status {
		case "succeeded":
			colored = color.GreenString(status)
		case "failed":
			colored = color.RedString(status)
		case "building":
			colored = color.YellowString(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", t.Name, colored, lastBuild, builds, failures)
	}
	return w.Flush()
}

func runList() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	printInfo(fmt.Sprintf("project type: %s", cfg.ProjectType))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tENABLED\tWATCH PATHS")
	fmt.Fprintln(w, "----\t----\t-------\t-----------")

	targets, _ := cfg.ParsedTargets()
	for _, t := range targets {
		enabled := "✓"
		if !t.Enabled {
			enabled = "✗"
		}
		watch := ""
		if len(t.WatchPaths) > 0 {
			watch = t.WatchPaths[0]
			if len(t.WatchPaths) > 1 {
				watch += fmt.Sprintf(" (+%d more)", len(t.WatchPaths)-1)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Kind, enabled, watch)
	}
	return w.Flush()
}

func runBuild(targetName string, force bool, jsonOut bool) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	target := cfg.FindTarget(targetName)
	if target == nil {
		return fmt.Errorf("%w: target %q not found in configuration", apperrors.ErrInvalidTarget, targetName)
	}

	log := newLogger()
	store := statestore.New(stateDir, projectRoot, log)

	hostname, _ := os.Hostname()
	owner := statestore.ProcessInfo{
		PID:           os.Getpid(),
		Hostname:      hostname,
		Platform:      "go",
		StartTime:     time.Now(),
		LastHeartbeat: time.Now(),
		Active:        true,
	}

	if !force {
		if _, err := store.Claim(targetName, owner); err != nil {
			if jsonOut {
				return printBuildJSON(targetName, false, 0, 0, err.Error())
			}
			printError(fmt.Sprintf("cannot build %s: %v", targetName, err))
			return err
		}
	}

	if !jsonOut {
		printInfo(fmt.Sprintf("building %s", targetName))
	}
	b := builder.New(projectRoot, log)
	if err := b.Validate(target); err != nil {
		return err
	}

	result := b.Build(context.Background(), target, nil)
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	_, _ = store.Update(targetName, func(st *statestore.TargetState) {
		st.TargetType = string(target.Kind)
		st.LastBuild = &statestore.LastBuild{Status: status, Timestamp: time.Now(), DurationMS: result.Duration.Milliseconds(), ExitCode: result.ExitCode}
		st.Process.Active = false
		st.BuildHistory.BuildCount++
		if result.Success {
			st.BuildHistory.SuccessCount++
		} else {
			st.BuildHistory.FailureCount++
		}
	})

	if jsonOut {
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		return printBuildJSON(targetName, result.Success, result.ExitCode, result.Duration.Milliseconds(), errMsg)
	}

	if !result.Success {
		printError(fmt.Sprintf("build failed for %s (%s)", targetName, result.Duration))
		return result.Err
	}
	printSuccess(fmt.Sprintf("build succeeded for %s (%s)", targetName, result.Duration))
	return nil
}

func printBuildJSON(target string, success bool, exitCode int, durationMS int64, errMsg string) error {
	payload := struct {
		Target     string `json:"target"`
		Success    bool   `json:"success"`
		ExitCode   int    `json:"exitCode"`
		DurationMS int64  `json:"durationMs"`
		Error      string `json:"error,omitempty"`
	}{Target: target, Success: success, ExitCode: exitCode, DurationMS: durationMS, Error: errMsg}

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(payload); err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", apperrors.ErrBuildFailure, errMsg)
	}
	return nil
}

func runClean(dryRun bool) error {
	store := statestore.New(stateDir, projectRoot, newLogger())
	removed, err := store.Clean(24*time.Hour, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		printInfo(fmt.Sprintf("would remove %d stale state file(s): %s", len(removed), strings.Join(removed, ", ")))
		return nil
	}
	printSuccess(fmt.Sprintf("removed %d stale state file(s)", len(removed)))
	return nil
}

func runValidate() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		printError(fmt.Sprintf("configuration is invalid: %v", err))
		return err
	}
	targets, errs := cfg.ParsedTargets()
	for _, e := range errs {
		printError(e.Error())
	}
	for _, t := range targets {
		if len(t.WatchPaths) == 0 {
			printWarning(fmt.Sprintf("target %q has no watch paths", t.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration has %d error(s)", len(errs))
	}
	printSuccess("configuration is valid")
	return nil
}

func runLogs(targetName string, follow bool, lines int) error {
	logDir := filepath.Join(projectRoot, ".poltergeist", "logs")
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		printWarning("no logs found; run 'poltergeist watch' first")
		return nil
	}

	var files []string
	if targetName != "" {
		f := filepath.Join(logDir, targetName+".log")
		if _, err := os.Stat(f); os.IsNotExist(err) {
			return fmt.Errorf("no logs found for target: %s", targetName)
		}
		files = []string{f}
	} else {
		entries, err := os.ReadDir(logDir)
		if err != nil {
			return fmt.Errorf("read log directory: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
				files = append(files, filepath.Join(logDir, e.Name()))
			}
		}
	}

	for _, f := range files {
		if err := displayLogFile(f, lines, follow); err != nil {
			printError(fmt.Sprintf("failed to display %s: %v", filepath.Base(f), err))
		}
	}
	return nil
}

func displayLogFile(path string, lines int, follow bool) error {
	if follow {
		cmd := exec.Command("tail", "-f", "-n", fmt.Sprintf("%d", lines), path)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		go func() {
			<-sigCh
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}()
		return cmd.Run()
	}

	content, err := tailLines(path, lines)
	if err != nil {
		return err
	}
	fmt.Printf("\n=== %s ===\n", strings.TrimSuffix(filepath.Base(path), ".log"))
	fmt.Print(content)
	return nil
}

func tailLines(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	start := 0
	if len(all) > n {
		start = len(all) - n
	}
	return strings.Join(all[start:], "\n") + "\n", nil
}
