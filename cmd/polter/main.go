// Command polter is a smart wrapper for running binaries managed by
// poltergeist: it checks the target's build freshness before executing,
// waiting for or triggering a build as needed instead of running a
// stale or failed binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/apperrors"
	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/logger"
	"github.com/poltergeist/poltergeist/internal/runner"
)

var (
	timeoutMS   int
	force       bool
	noWait      bool
	verbosity   string
	projectRoot string
	stateDir    string
	cfgFile     string
)

func main() {
	cmd := &cobra.Command{
		Use:                   "polter [target] [args...]",
		Short:                 "Smart wrapper for running executables managed by poltergeist",
		Args:                  cobra.ArbitraryArgs,
		DisableFlagsInUseLine: true,
		RunE:                  runPolter,
	}

	cmd.Flags().IntVarP(&timeoutMS, "timeout", "t", 300000, "build wait timeout in milliseconds")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "run even if the last build failed")
	cmd.Flags().BoolVarP(&noWait, "no-wait", "n", false, "don't wait for an in-progress build, fail instead")
	cmd.Flags().StringVar(&verbosity, "verbosity", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&projectRoot, "root", ".", "project root directory")
	cmd.Flags().StringVar(&stateDir, "state-dir", defaultStateDir(), "directory for daemon and target state files")
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: poltergeist.config.json)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("polter: %v", err))
		os.Exit(1)
	}
}

func runPolter(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: polter <target> [args...]")
	}
	targetName, targetArgs := args[0], args[1:]

	configPath := cfgFile
	if configPath == "" {
		configPath = filepath.Join(projectRoot, "poltergeist.config.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	target := cfg.FindTarget(targetName)
	if target == nil {
		return fmt.Errorf("%w: %q not found in configuration", apperrors.ErrInvalidTarget, targetName)
	}

	log := logger.New("", verbosity)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	outcome, err := runner.Resolve(ctx, runner.Options{
		ProjectRoot: projectRoot,
		StateDir:    stateDir,
		Target:      target,
		Args:        targetArgs,
		Timeout:     time.Duration(timeoutMS) * time.Millisecond,
		Force:       force,
		NoWait:      noWait,
	}, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("polter: %v", err))
		os.Exit(1)
	}

	os.Exit(outcome.ExitCode)
	return nil
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "poltergeist")
	}
	return filepath.Join(os.TempDir(), "poltergeist")
}
