package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dynatheme/internal/settings"
	"dynatheme/internal/switcher"
)

var applyCmd = &cobra.Command{
	Use:   "apply <theme|day|night>",
	Short: "Apply a theme now",
	Long: `Apply writes the active color theme immediately.

"day" and "night" apply the configured day or night theme; anything else is
taken as a theme name.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	themeID := strings.Join(args, " ")
	switch themeID {
	case switcher.TriggerDay, switcher.TriggerNight:
		r, err := settings.Read(ctx, a.Store())
		if err != nil {
			return err
		}
		if themeID == switcher.TriggerDay {
			themeID = r.DayTheme
		} else {
			themeID = r.NightTheme
		}
	}

	if err := a.Applier().Apply(ctx, themeID); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Theme changed to: "+themeID))
	return nil
}
