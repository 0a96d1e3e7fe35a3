package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show when the day and night themes apply next",
	Args:  cobra.NoArgs,
	RunE:  runNext,
}

func init() {
	rootCmd.AddCommand(nextCmd)
}

func runNext(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Activate(cmd.Context()); err != nil {
		return err
	}
	_, status, _ := a.Switcher().Status()
	loc := a.Scheduler().Location()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Deactivate(stopCtx); err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), renderNext(status, loc, time.Now()))
	return nil
}
