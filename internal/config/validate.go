package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "dynatheme/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			errs = append(errs, errors.New("store.path: required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", cfg.Store.Driver))
	}
	if _, err := parseBusyTimeout(cfg.Store.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if cfg.Notify.RatePerSec < 0 {
		errs = append(errs, errors.New("notify.rate_per_sec: must be >= 0"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// parseBusyTimeout reads store.busy_timeout. Empty or zero means
// DefaultBusyTimeout.
func parseBusyTimeout(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultBusyTimeout, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("store.busy_timeout: invalid duration %q: %w", raw, err)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("store.busy_timeout: must be >= 0, got %s", d)
	case d == 0:
		return DefaultBusyTimeout, nil
	}
	return d, nil
}
