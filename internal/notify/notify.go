// Package notify is the user-facing notification surface: short one-shot
// messages such as "Theme changed to: Default Dark+".
package notify

import (
	"sync"

	"golang.org/x/time/rate"

	logx "dynatheme/pkg/logx"
)

// Notifier shows fire-and-forget messages. Implementations must not block.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// Log writes notifications to the structured log.
type Log struct{ log logx.Logger }

func NewLog(log logx.Logger) Log { return Log{log: log} }

func (l Log) Info(msg string)  { l.log.Info(msg, logx.String("kind", "notification")) }
func (l Log) Error(msg string) { l.log.Error(msg, logx.String("kind", "notification")) }

// Multi fans a notification out to every non-nil target.
type Multi []Notifier

func (m Multi) Info(msg string) {
	for _, n := range m {
		if n != nil {
			n.Info(msg)
		}
	}
}

func (m Multi) Error(msg string) {
	for _, n := range m {
		if n != nil {
			n.Error(msg)
		}
	}
}

// Limited drops notifications above a steady rate so a misbehaving event
// source cannot flood the desktop. Errors share the same budget.
type Limited struct {
	next Notifier
	log  logx.Logger

	mu  sync.Mutex
	lim *rate.Limiter
}

// NewLimited allows perSec notifications per second with an equal burst.
// perSec <= 0 disables limiting.
func NewLimited(next Notifier, perSec int, log logx.Logger) *Limited {
	l := &Limited{next: next, log: log}
	l.SetRate(perSec)
	return l
}

func (l *Limited) SetRate(perSec int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perSec <= 0 {
		l.lim = nil
		return
	}
	l.lim = rate.NewLimiter(rate.Limit(perSec), perSec)
}

func (l *Limited) allow(msg string) bool {
	l.mu.Lock()
	lim := l.lim
	l.mu.Unlock()
	if lim == nil || lim.Allow() {
		return true
	}
	l.log.Debug("notification dropped (rate limited)", logx.String("msg", msg))
	return false
}

func (l *Limited) Info(msg string) {
	if l.allow(msg) {
		l.next.Info(msg)
	}
}

func (l *Limited) Error(msg string) {
	if l.allow(msg) {
		l.next.Error(msg)
	}
}
