package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/daemon"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Aliases: []string{"haunt", "start"},
		Short:   "Watch the project and build targets as files change",
		Long:    `Start Poltergeist in the foreground: watch every enabled target's paths and rebuild on settled changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch()
		},
	}
}

func runWatch() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		printError(fmt.Sprintf("failed to load configuration: %v", err))
		return err
	}

	log := newLogger()
	d := daemon.New(projectRoot, getConfigPath(), stateDir, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		printError(fmt.Sprintf("failed to start: %v", err))
		return err
	}
	printSuccess("watching for changes — press Ctrl-C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	printInfo("shutting down")
	stopCtx, stopCancel := context.WithTimeout(ctx, shutdownGrace)
	defer stopCancel()
	return d.Stop(stopCtx)
}
