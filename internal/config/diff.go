package config

import (
	"strings"

	logx "dynatheme/pkg/logx"
)

// SummarizeChange returns the sections that differ between two configs and
// structured fields describing the new values, for a single reload log line.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", newCfg.Store.Driver),
			logx.String("store.path", newCfg.Store.Path),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	if oldCfg.Panel != newCfg.Panel {
		changed = append(changed, "panel")
		attrs = append(attrs,
			logx.Bool("panel.enabled", newCfg.Panel.Enabled),
			logx.String("panel.addr", newCfg.Panel.Addr),
		)
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.desktop", newCfg.Notify.Desktop),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
		)
	}

	return changed, attrs
}
