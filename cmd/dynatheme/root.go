package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dynatheme/internal/app"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var globalOpts struct {
	configPath string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "dynatheme",
	Short: "Time-of-day theme switcher",
	Long: `dynatheme applies a day theme and a night theme at configured times of day.

Settings live in a settings.json (or SQLite) store under the
"dynamicThemeSwitcher" section. The daemon follows edits to that store,
serves a settings panel over HTTP, and switches to a light fallback theme
when zen mode is turned on.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalOpts.configPath, "config", "c", "",
		"Path to config file (.json, .yaml or .toml; default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.logLevel, "log-level", "",
		"Override logging.level (trace, debug, info, warn, error)")
}

// openApp builds the app for a one-shot CLI command. Those default to
// warn-level logs so command output stays readable.
func openApp(opts ...app.Option) (*app.App, error) {
	level := globalOpts.logLevel
	if level == "" {
		level = "warn"
	}
	return app.New(globalOpts.configPath, append([]app.Option{app.WithLogLevel(level)}, opts...)...)
}
