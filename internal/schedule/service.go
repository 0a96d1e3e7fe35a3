package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "dynatheme/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		triggers: map[*Trigger]struct{}{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Start starts cron triggering and registers every live trigger.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for t := range s.triggers {
		s.registerLocked(t)
	}
	s.c.Start()
}

// Stop stops cron triggering. Live triggers stay registered and resume on the
// next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for t := range s.triggers {
		t.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Debug("service stopped")
}

// SetLocation switches the trigger timezone. A running cron is restarted
// and every live trigger re-registered in the new location.
func (s *Service) SetLocation(tz string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg.Timezone = tz
	if oldTZ == strings.TrimSpace(tz) {
		return
	}
	if s.c == nil {
		s.loc = s.loadLocationLocked()
		return
	}
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Schedule registers fn to run every day at clock in the service timezone,
// at second zero. A moment missed while the process is down is skipped.
func (s *Service) Schedule(name string, clock Clock, fn func()) (*Trigger, error) {
	if !clock.Valid() {
		return nil, fmt.Errorf("%w: %02d:%02d", ErrInvalidClock, clock.Hour, clock.Minute)
	}
	spec := clock.Spec()
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.add(name, spec, sched, fn)
}

func (s *Service) add(name, spec string, sched cron.Schedule, fn func()) (*Trigger, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name required")
	}
	if fn == nil {
		return nil, errors.New("callback required")
	}
	t := &Trigger{svc: s, name: name, spec: spec, sched: sched, fn: fn}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[t] = struct{}{}
	if s.c != nil {
		s.registerLocked(t)
	}
	s.log.Debug("trigger registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", sched.Next(time.Now().In(s.loc))))
	return t, nil
}

func (s *Service) registerLocked(t *Trigger) {
	t.entryID = s.c.Schedule(t.sched, cron.FuncJob(t.fire))
}

// fire runs the callback unless the trigger is stopped. Holding the read
// lock for the whole call lets Stop wait out a fire cron already dispatched.
func (t *Trigger) fire() {
	t.runMu.RLock()
	defer t.runMu.RUnlock()
	if t.stopped.Load() {
		return
	}
	t.svc.log.Debug("trigger fired", logx.String("name", t.name))
	t.fn()
}

func (s *Service) remove(t *Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t]; !ok {
		return
	}
	delete(s.triggers, t)
	if s.c != nil && t.entryID != 0 {
		s.c.Remove(t.entryID)
	}
	t.entryID = 0
	s.log.Debug("trigger removed", logx.String("name", t.name))
}

// Triggers returns the live triggers sorted by next fire time.
func (s *Service) Triggers() []TriggerInfo {
	s.mu.Lock()
	now := time.Now().In(s.loc)
	out := make([]TriggerInfo, 0, len(s.triggers))
	for t := range s.triggers {
		out = append(out, TriggerInfo{Name: t.name, Spec: t.spec, Next: t.sched.Next(now)})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Name < out[j].Name
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (t *Trigger) Name() string { return t.name }

// Stop unregisters the trigger. It is idempotent and safe to call from any
// goroutine except the trigger's own callback. It waits for a callback in
// flight; once it returns the callback will not be invoked again.
func (t *Trigger) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.runMu.Lock()
		t.stopped.Store(true)
		t.runMu.Unlock()
		t.svc.remove(t)
	})
}

// Next reports the next fire time, or the zero time once stopped.
func (t *Trigger) Next() time.Time {
	if t == nil || t.stopped.Load() {
		return time.Time{}
	}
	return t.sched.Next(time.Now().In(t.svc.Location()))
}
