package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"dynatheme/internal/panel"
	"dynatheme/internal/schedule"
	"dynatheme/internal/settings"
	logx "dynatheme/pkg/logx"
)

// Config is the daemon configuration file. It does not hold the theme
// settings themselves; those live in the settings store it points at.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Panel     PanelConfig     `json:"panel"`
	Notify    NotifyConfig    `json:"notify"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig selects the settings store.
//
// Example:
//
//	"store": { "driver": "file", "path": "~/.config/dynatheme/settings.json" }
type StoreConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	WorkspacePath string `json:"workspace_path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SchedulerConfig struct {
	// Trigger timezone. Empty means the host's local time.
	Timezone string `json:"timezone,omitempty"`
}

type PanelConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:7077"
	Title   string `json:"title,omitempty"`
}

// NotifyConfig controls where notifications go. Log output is always on;
// desktop adds org.freedesktop.Notifications over the session bus.
type NotifyConfig struct {
	Desktop    bool `json:"desktop"`
	RatePerSec int  `json:"rate_per_sec"`
}

// Defaults returns the configuration used when no file is given. Fields
// omitted from a config file keep these values.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Store:   StoreConfig{Driver: "file", Path: DefaultStorePath()},
		Panel:   PanelConfig{Enabled: true, Addr: "127.0.0.1:7077"},
		Notify:  NotifyConfig{Desktop: true, RatePerSec: 2},
	}
}

// DefaultStorePath is settings.json under the user config directory.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "dynatheme", "settings.json")
}

func expandHome(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: expandHome(c.File.Path)},
	}
}

// DefaultBusyTimeout applies to the sqlite driver when busy_timeout is unset.
const DefaultBusyTimeout = 5 * time.Second

// Settings converts the store section. Call Validate first; an invalid
// busy_timeout falls back to DefaultBusyTimeout.
func (c StoreConfig) Settings() settings.Config {
	bt, err := parseBusyTimeout(c.BusyTimeout)
	if err != nil {
		bt = DefaultBusyTimeout
	}
	return settings.Config{
		Driver:        c.Driver,
		Path:          expandHome(c.Path),
		WorkspacePath: expandHome(c.WorkspacePath),
		BusyTimeout:   bt,
	}
}

func (c SchedulerConfig) Schedule() schedule.Config {
	return schedule.Config{Timezone: strings.TrimSpace(c.Timezone)}
}

func (c PanelConfig) Panel() panel.Config {
	return panel.Config{Enabled: c.Enabled, Addr: c.Addr, Title: c.Title}
}
