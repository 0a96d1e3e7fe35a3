package switcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dynatheme/internal/eventbus"
	"dynatheme/internal/schedule"
	"dynatheme/internal/settings"
	"dynatheme/internal/theme"
	logx "dynatheme/pkg/logx"
)

var (
	ErrInactive       = errors.New("switcher not active")
	ErrAlreadyActive  = errors.New("switcher already active")
	ErrQueueFull      = errors.New("switcher queue full")
	errUnknownTrigger = errors.New("unknown trigger")
)

const (
	TriggerDay   = "day"
	TriggerNight = "night"

	queueSize = 16
)

// Applier sets the active theme.
type Applier interface {
	Apply(ctx context.Context, themeID string) error
}

type task struct {
	name string
	run  func(ctx context.Context) error
	done chan error // nil for fire-and-forget
}

type Switcher struct {
	store settings.Store
	bus   eventbus.Bus
	sched *schedule.Service
	apply Applier
	log   logx.Logger

	// run is the current activation, nil while inactive. Trigger callbacks
	// read it without taking mu.
	run atomic.Pointer[activation]

	mu       sync.Mutex
	rec      settings.Record
	day      *schedule.Trigger
	night    *schedule.Trigger
	cleanups []cleanup
}

// activation holds the state of one Activate/Deactivate cycle. Nothing queued
// on it carries over to the next activation.
type activation struct {
	tasks  chan task
	kick   chan struct{}
	cancel context.CancelFunc
	unsub  func()
	done   chan struct{}

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// collect merges the keys of a settings change into the pending set and
// wakes the loop. It runs inside Publish, so it never blocks.
func (a *activation) collect(e eventbus.Event) {
	if e.Type != settings.EventChanged || len(e.Keys) == 0 {
		return
	}
	a.pendingMu.Lock()
	for _, k := range e.Keys {
		a.pending[k] = struct{}{}
	}
	a.pendingMu.Unlock()
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *activation) takePending() []string {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	keys := make([]string, 0, len(a.pending))
	for k := range a.pending {
		keys = append(keys, k)
	}
	clear(a.pending)
	sort.Strings(keys)
	return keys
}

type cleanup struct {
	name string
	fn   func() error
}

func New(store settings.Store, bus eventbus.Bus, sched *schedule.Service, apply Applier, log logx.Logger) *Switcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Switcher{
		store: store,
		bus:   bus,
		sched: sched,
		apply: apply,
		log:   log,
	}
}

// Activate loads the settings record, starts both daily triggers and the
// event loop. A malformed persisted time fails here.
func (s *Switcher) Activate(ctx context.Context) error {
	rec, err := settings.Load(ctx, s.store)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.Load() != nil {
		return ErrAlreadyActive
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a := &activation{
		tasks:   make(chan task, queueSize),
		kick:    make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: map[string]struct{}{},
	}
	a.unsub = s.bus.SubscribeFunc(a.collect)
	s.run.Store(a)

	if err := s.installLocked(rec); err != nil {
		s.run.Store(nil)
		cancel()
		a.unsub()
		return fmt.Errorf("activate: %w", err)
	}

	go s.loop(loopCtx, a)

	s.log.Info("activated",
		logx.String("day", rec.DayTime+" "+rec.DayTheme),
		logx.String("night", rec.NightTime+" "+rec.NightTheme),
		logx.Bool("zen_override", rec.ZenModeEnabled),
	)
	return nil
}

// OnDeactivate registers a teardown step run by Deactivate, newest first.
func (s *Switcher) OnDeactivate(name string, fn func() error) {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, cleanup{name: name, fn: fn})
	s.mu.Unlock()
}

// Deactivate stops both triggers and the event loop. The trigger stops are
// deferred so they run on every path, including a panicking cleanup step.
// Calling it on an inactive switcher is a no-op.
func (s *Switcher) Deactivate() (err error) {
	s.mu.Lock()
	day, night := s.day, s.night
	s.day, s.night = nil, nil
	a := s.run.Swap(nil)
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	defer day.Stop()
	defer night.Stop()

	if a == nil {
		return nil
	}

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if e := runCleanup(cleanups[i]); e != nil {
			errs = append(errs, e)
		}
	}
	a.unsub()
	a.cancel()
	<-a.done
	s.log.Info("deactivated")
	return errors.Join(errs...)
}

func runCleanup(c cleanup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup %s: panic: %v", c.name, r)
		}
	}()
	if e := c.fn(); e != nil {
		return fmt.Errorf("cleanup %s: %w", c.name, e)
	}
	return nil
}

// installLocked replaces both triggers with ones built from rec.
func (s *Switcher) installLocked(rec settings.Record) error {
	dayClock, nightClock, err := rec.Clocks()
	if err != nil {
		return err
	}
	day, err := s.sched.Schedule(TriggerDay, dayClock, func() { s.fire(TriggerDay) })
	if err != nil {
		return err
	}
	night, err := s.sched.Schedule(TriggerNight, nightClock, func() { s.fire(TriggerNight) })
	if err != nil {
		day.Stop()
		return err
	}

	old := [2]*schedule.Trigger{s.day, s.night}
	s.day, s.night, s.rec = day, night, rec
	for _, t := range old {
		t.Stop()
	}
	return nil
}

// fire is the trigger callback: it only enqueues the apply task. A fire that
// arrives while inactive is dropped.
func (s *Switcher) fire(which string) {
	a := s.run.Load()
	if a == nil {
		s.log.Debug("trigger ignored (inactive)", logx.String("trigger", which))
		return
	}
	t := task{name: "trigger." + which, run: func(ctx context.Context) error {
		return s.applyConfigured(ctx, which)
	}}
	select {
	case a.tasks <- t:
	default:
		// Missed ticks are not retried; the next daily fire corrects the theme.
		s.log.Warn("trigger dropped (queue full)", logx.String("trigger", which))
	}
}

func (s *Switcher) applyConfigured(ctx context.Context, which string) error {
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	switch which {
	case TriggerDay:
		return s.apply.Apply(ctx, rec.DayTheme)
	case TriggerNight:
		return s.apply.Apply(ctx, rec.NightTheme)
	default:
		return fmt.Errorf("%w: %s", errUnknownTrigger, which)
	}
}

// ApplyNow runs the day or night apply on the event loop and waits for it.
func (s *Switcher) ApplyNow(ctx context.Context, which string) error {
	if which != TriggerDay && which != TriggerNight {
		return fmt.Errorf("%w: %s", errUnknownTrigger, which)
	}
	return s.Submit(ctx, "apply."+which, func(c context.Context) error {
		return s.applyConfigured(c, which)
	})
}

// Submit runs fn on the event loop and waits for its result.
func (s *Switcher) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	a := s.run.Load()
	if a == nil {
		return ErrInactive
	}

	done := make(chan error, 1)
	select {
	case a.tasks <- task{name: name, run: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
	select {
	case err := <-done:
		return err
	case <-a.done:
		// The loop exited; drain may already have answered.
		select {
		case err := <-done:
			return err
		default:
			return ErrInactive
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop runs tasks and coalesced settings changes one at a time. Changes that
// pile up while a task runs are handled together afterwards.
func (s *Switcher) loop(ctx context.Context, a *activation) {
	defer close(a.done)
	defer drain(a)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.tasks:
			s.runTask(ctx, t)
		case <-a.kick:
			keys := a.takePending()
			if len(keys) == 0 {
				continue
			}
			e := eventbus.Event{Type: settings.EventChanged, Keys: keys}
			s.runTask(ctx, task{name: "settings.changed", run: func(c context.Context) error {
				return s.onChange(c, e)
			}})
		}
	}
}

// drain fails waiting submitters once the loop exits.
func drain(a *activation) {
	for {
		select {
		case t := <-a.tasks:
			if t.done != nil {
				t.done <- ErrInactive
			}
		default:
			return
		}
	}
}

func (s *Switcher) runTask(ctx context.Context, t task) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task panicked", logx.String("task", t.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("task %s: panic: %v", t.name, r)
			}
		}()
		return t.run(ctx)
	}()
	if err != nil {
		s.log.Warn("task failed", logx.String("task", t.name), logx.Err(err))
	} else {
		s.log.Debug("task done", logx.String("task", t.name), logx.Duration("took", time.Since(start)))
	}
	if t.done != nil {
		t.done <- err
	}
}

func (s *Switcher) onChange(ctx context.Context, e eventbus.Event) error {
	if e.Type != settings.EventChanged {
		return nil
	}
	var errs []error
	rescheduled := false
	for _, k := range settings.ScheduleKeys {
		if e.Affects(k) {
			errs = append(errs, s.reschedule(ctx))
			rescheduled = true
			break
		}
	}
	if !rescheduled && e.Affects(settings.KeyEnableZenMode) {
		errs = append(errs, s.refreshZenFlag(ctx))
	}
	if e.Affects(settings.KeyZenMode) {
		errs = append(errs, s.onZenMode(ctx))
	}
	return errors.Join(errs...)
}

// reschedule rebuilds both triggers from the stored record. An invalid
// record keeps the previous triggers.
func (s *Switcher) reschedule(ctx context.Context) error {
	rec, err := settings.Load(ctx, s.store)
	if err != nil {
		return fmt.Errorf("reschedule: keeping previous triggers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.Load() == nil {
		return nil
	}
	if err := s.installLocked(rec); err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	s.log.Info("triggers rescheduled", logx.String("day", rec.DayTime), logx.String("night", rec.NightTime))
	return nil
}

// refreshZenFlag updates the cached enableZenMode value reported by Status.
func (s *Switcher) refreshZenFlag(ctx context.Context) error {
	on, err := settings.Bool(ctx, s.store, settings.KeyEnableZenMode, settings.Defaults().ZenModeEnabled)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rec.ZenModeEnabled = on
	s.mu.Unlock()
	return nil
}

// onZenMode applies the fallback theme when minimal UI mode is now on and
// the user has not disabled the override.
func (s *Switcher) onZenMode(ctx context.Context) error {
	on, err := settings.Bool(ctx, s.store, settings.KeyZenMode, false)
	if err != nil {
		return err
	}
	if !on {
		return nil
	}
	enabled, err := settings.Bool(ctx, s.store, settings.KeyEnableZenMode, true)
	if err != nil {
		return err
	}
	if !enabled {
		s.log.Debug("zen mode on; override disabled by user")
		return nil
	}
	return s.apply.Apply(ctx, theme.Fallback)
}

type TriggerStatus struct {
	Name  string
	Theme string
	Clock string
	Next  time.Time
}

// Status reports the current record and trigger times.
func (s *Switcher) Status() (settings.Record, []TriggerStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.Load() == nil {
		return s.rec, nil, false
	}
	return s.rec, []TriggerStatus{
		{Name: TriggerDay, Theme: s.rec.DayTheme, Clock: s.rec.DayTime, Next: s.day.Next()},
		{Name: TriggerNight, Theme: s.rec.NightTheme, Clock: s.rec.NightTime, Next: s.night.Next()},
	}, true
}
