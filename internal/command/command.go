// Package command is the registry of named editor commands
// ("dynamicThemeSwitcher.openUI", ...) and their middleware chain.
package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	logx "dynatheme/pkg/logx"
)

const (
	OpenUI          = "dynamicThemeSwitcher.openUI"
	ApplyDayTheme   = "dynamicThemeSwitcher.applyDayTheme"
	ApplyNightTheme = "dynamicThemeSwitcher.applyNightTheme"
)

var (
	ErrUnknown   = errors.New("unknown command")
	ErrDuplicate = errors.New("command already registered")
)

// HandlerFunc runs a command. The result is returned to the caller as is
// (the HTTP surface encodes it as JSON).
type HandlerFunc func(ctx context.Context) (any, error)

type Middleware func(id string, next HandlerFunc) HandlerFunc

func Chain(id string, h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](id, h)
	}
	return h
}

type Command struct {
	ID      string
	Title   string
	Timeout time.Duration // optional
	Handle  HandlerFunc
}

// Info describes a registered command.
type Info struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Registry struct {
	log logx.Logger

	mu   sync.RWMutex
	cmds map[string]registered
}

type registered struct {
	cmd Command
	h   HandlerFunc
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log.With(logx.String("comp", "command")), cmds: map[string]registered{}}
}

// Register adds c and returns a func that removes it again.
func (r *Registry) Register(c Command) (func(), error) {
	id := strings.TrimSpace(c.ID)
	if id == "" || c.Handle == nil {
		return nil, fmt.Errorf("command: id and handler are required")
	}
	c.ID = id
	h := Chain(id, c.Handle, Recover(r.log), Timeout(c.Timeout), RequestLog(r.log))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cmds[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r.cmds[id] = registered{cmd: c, h: h}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.cmds, id)
			r.mu.Unlock()
		})
	}, nil
}

// Execute runs the command registered under id.
func (r *Registry) Execute(ctx context.Context, id string) (any, error) {
	r.mu.RLock()
	reg, ok := r.cmds[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return reg.h(ctx)
}

// List returns the registered commands sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.cmds))
	for _, reg := range r.cmds {
		out = append(out, Info{ID: reg.cmd.ID, Title: reg.cmd.Title})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func Timeout(d time.Duration) Middleware {
	return func(_ string, next HandlerFunc) HandlerFunc {
		return func(ctx context.Context) (any, error) {
			if d <= 0 {
				return next(ctx)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx)
		}
	}
}

func Recover(log logx.Logger) Middleware {
	return func(id string, next HandlerFunc) HandlerFunc {
		return func(ctx context.Context) (res any, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.String("cmd", id),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					res, err = nil, fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx)
		}
	}
}

func RequestLog(log logx.Logger) Middleware {
	return func(id string, next HandlerFunc) HandlerFunc {
		return func(ctx context.Context) (any, error) {
			start := time.Now()
			res, err := next(ctx)
			fields := []logx.Field{logx.String("cmd", id), logx.Duration("dur", time.Since(start))}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Info("command ok", fields...)
			}
			return res, err
		}
	}
}
