package settings

import (
	"errors"
	"strings"

	"dynatheme/internal/eventbus"
	logx "dynatheme/pkg/logx"
)

// Open initializes the configured store. Change events are published on bus.
func Open(cfg Config, bus eventbus.Bus, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file", "json":
		return openFile(cfg, bus, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, bus, log)
	case "memory":
		return NewMemory(bus), nil
	default:
		return nil, errors.New("unknown settings driver: " + driver)
	}
}
