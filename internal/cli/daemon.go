package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/daemon"
	"github.com/poltergeist/poltergeist/internal/procmanager"
)

// shutdownGrace bounds how long an orderly shutdown sequence may take
// before the CLI gives up waiting on it.
const shutdownGrace = 30 * time.Second

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop()
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonRestart()
		},
	}
}

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the Poltergeist daemon",
	}
	cmd.AddCommand(
		&cobra.Command{Use: "start", Short: "Start the daemon (runs in the foreground)", RunE: func(cmd *cobra.Command, args []string) error { return runDaemonStartBackground() }},
		&cobra.Command{Use: "stop", Short: "Stop the daemon", RunE: func(cmd *cobra.Command, args []string) error { return runDaemonStop() }},
		&cobra.Command{Use: "restart", Short: "Restart the daemon", RunE: func(cmd *cobra.Command, args []string) error { return runDaemonRestart() }},
		&cobra.Command{Use: "status", Short: "Show daemon status", RunE: func(cmd *cobra.Command, args []string) error { return runDaemonStatus() }},
	)
	return cmd
}

// runDaemonStartBackground serves `daemon start`. It does not detach:
// it runs the daemon in the foreground, exactly like `watch`.
func runDaemonStartBackground() error {
	printWarning("daemon start runs Poltergeist in the foreground, same as 'poltergeist watch'")
	return runWatch()
}

func runDaemonStop() error {
	info, live, err := daemon.Status(stateDir, projectRoot)
	if err != nil {
		return err
	}
	if !live {
		printWarning("no daemon is running for this project")
		return nil
	}
	if err := procmanager.Terminate(info.PID, shutdownGrace); err != nil {
		printError(fmt.Sprintf("failed to stop daemon: %v", err))
		return err
	}
	printSuccess("daemon stopped")
	return nil
}

func runDaemonRestart() error {
	if err := runDaemonStop(); err != nil {
		return err
	}
	return runWatch()
}

func runDaemonStatus() error {
	info, live, err := daemon.Status(stateDir, projectRoot)
	if err != nil {
		return err
	}
	if !live {
		printWarning("daemon is not running")
		return nil
	}
	printInfo(fmt.Sprintf("daemon running: pid=%d host=%s started=%s", info.PID, info.Hostname, info.StartTime.Format(time.RFC3339)))
	return nil
}
