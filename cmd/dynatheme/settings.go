package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"dynatheme/internal/panel"
	"dynatheme/internal/schedule"
	"dynatheme/internal/settings"
)

var settingsOpts struct {
	json bool

	dayTheme   string
	nightTheme string
	dayTime    string
	nightTime  string
	zenMode    bool
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the theme switcher settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save settings from flags",
	Long: `Save writes all five settings in one batch. Flags that are not given
keep their current value. Times must be HH:MM (24h, zero padded).`,
	Args: cobra.NoArgs,
	RunE: runSettingsSave,
}

var settingsEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the settings in an interactive form",
	Args:  cobra.NoArgs,
	RunE:  runSettingsEdit,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSaveCmd, settingsEditCmd)

	settingsShowCmd.Flags().BoolVar(&settingsOpts.json, "json", false,
		"Print the updateSettings message as JSON")

	f := settingsSaveCmd.Flags()
	f.StringVar(&settingsOpts.dayTheme, "day-theme", "", "Theme applied at day time")
	f.StringVar(&settingsOpts.nightTheme, "night-theme", "", "Theme applied at night time")
	f.StringVar(&settingsOpts.dayTime, "day-time", "", "Day time (HH:MM)")
	f.StringVar(&settingsOpts.nightTime, "night-time", "", "Night time (HH:MM)")
	f.BoolVar(&settingsOpts.zenMode, "zen-mode", true, "Apply the light fallback theme when zen mode turns on")
}

// loadSettings asks the panel channel for the current values.
func loadSettings(cmd *cobra.Command, ch *panel.Channel) (settings.Record, error) {
	reply, err := ch.Handle(cmd.Context(), panel.Message{Command: panel.CmdLoadSettings})
	if err != nil {
		return settings.Record{}, err
	}
	if reply == nil {
		return settings.Record{}, errors.New("no reply to loadSettings")
	}
	return reply.Record, nil
}

func saveSettings(cmd *cobra.Command, ch *panel.Channel, rec settings.Record) error {
	_, err := ch.Handle(cmd.Context(), panel.Message{Command: panel.CmdSaveSettings, Record: rec})
	return err
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := loadSettings(cmd, a.Channel())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if settingsOpts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(panel.Message{Command: panel.CmdUpdateSettings, Record: rec})
	}
	fmt.Fprint(out, renderSettings(rec))
	return nil
}

func runSettingsSave(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := loadSettings(cmd, a.Channel())
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("day-theme") {
		rec.DayTheme = settingsOpts.dayTheme
	}
	if f.Changed("night-theme") {
		rec.NightTheme = settingsOpts.nightTheme
	}
	if f.Changed("day-time") {
		rec.DayTime = settingsOpts.dayTime
	}
	if f.Changed("night-time") {
		rec.NightTime = settingsOpts.nightTime
	}
	if f.Changed("zen-mode") {
		rec.ZenModeEnabled = settingsOpts.zenMode
	}

	if err := saveSettings(cmd, a.Channel(), rec); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Settings saved."))
	return nil
}

func runSettingsEdit(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ch := a.Channel()
	rec, err := loadSettings(cmd, ch)
	if err != nil {
		return err
	}

	form := newSettingsForm(&rec, ch.ThemeOptions(cmd.Context()))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Cancelled; nothing saved."))
			return nil
		}
		return fmt.Errorf("settings form: %w", err)
	}

	if err := saveSettings(cmd, ch, rec); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Settings saved."))
	fmt.Fprint(cmd.OutOrStdout(), renderSettings(rec))
	return nil
}

// newSettingsForm mirrors the browser panel: two theme selects, two times
// and the zen mode checkbox.
func newSettingsForm(rec *settings.Record, themes []string) *huh.Form {
	opts := make([]huh.Option[string], 0, len(themes))
	for _, t := range themes {
		opts = append(opts, huh.NewOption(t, t))
	}
	validClock := func(s string) error {
		if _, err := schedule.ParseClock(strings.TrimSpace(s)); err != nil {
			return fmt.Errorf("use HH:MM, 24h, zero padded")
		}
		return nil
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Day Theme").
				Options(opts...).
				Value(&rec.DayTheme),
			huh.NewSelect[string]().
				Title("Night Theme").
				Options(opts...).
				Value(&rec.NightTheme),
			huh.NewInput().
				Title("Day Time (HH:MM)").
				Value(&rec.DayTime).
				Validate(validClock),
			huh.NewInput().
				Title("Night Time (HH:MM)").
				Value(&rec.NightTime).
				Validate(validClock),
			huh.NewConfirm().
				Title("Enable Zen Mode").
				Description("Switch to "+settings.DefaultDayTheme+" when zen mode turns on").
				Value(&rec.ZenModeEnabled),
		),
	).WithTheme(huh.ThemeDracula())
}
