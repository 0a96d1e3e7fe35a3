package settings

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed  = errors.New("settings store closed")
	ErrInvalid = errors.New("invalid setting")
)

// EventChanged is the eventbus type published after a mutation.
const EventChanged = "settings.changed"

type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeWorkspace
)

func (s Scope) String() string {
	if s == ScopeWorkspace {
		return "workspace"
	}
	return "global"
}

// Config configures the store.
//
// Driver values: "file" (default), "sqlite", "memory".
// WorkspacePath is optional for the file driver; without it workspace
// writes are rejected.
type Config struct {
	Driver        string
	Path          string
	WorkspacePath string
	BusyTimeout   time.Duration // sqlite only; 0 means default
}

// Reader is the read side of the store.
type Reader interface {
	// Get returns the effective value of key. ok is false when no scope sets it.
	Get(ctx context.Context, key string) (value any, ok bool, err error)
}

// Store is the persisted configuration store.
//
// A nil value passed to Update/UpdateMany removes the key from that scope.
type Store interface {
	Reader
	Update(ctx context.Context, key string, value any, scope Scope) error
	// UpdateMany writes all values in one batch; readers never observe a
	// partially applied batch and one change event covers all keys.
	UpdateMany(ctx context.Context, values map[string]any, scope Scope) error
	Close() error
}

// Watcher is implemented by drivers that can detect writes made by other
// processes (e.g. the user editing settings.json by hand).
type Watcher interface {
	Watch(ctx context.Context) error
}
