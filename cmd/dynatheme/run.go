package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dynatheme/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the theme switcher daemon",
	Long: `Run schedules the day and night triggers, follows settings changes,
and serves the settings panel until interrupted.

Under systemd (Type=notify) readiness is reported once everything is up.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []app.Option{app.WithSystemdNotify(true)}
	if globalOpts.logLevel != "" {
		opts = append(opts, app.WithLogLevel(globalOpts.logLevel))
	}
	a, err := app.New(globalOpts.configPath, opts...)
	if err != nil {
		return err
	}

	stop := func(reason app.StopReason) {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
	}

	if err := a.Start(ctx); err != nil {
		stop(app.StopFatalError)
		return err
	}

	select {
	case <-ctx.Done():
		stop(app.StopSignal)
		return nil
	case <-a.Done():
		err := a.Err()
		stop(app.StopFatalError)
		return err
	}
}
