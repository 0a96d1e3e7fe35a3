package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dynatheme/internal/schedule"
)

// Section is the namespace owning the theme switcher's own keys.
const Section = "dynamicThemeSwitcher"

const (
	KeyDayTheme      = Section + ".dayTheme"
	KeyNightTheme    = Section + ".nightTheme"
	KeyDayTime       = Section + ".dayTime"
	KeyNightTime     = Section + ".nightTime"
	KeyEnableZenMode = Section + ".enableZenMode"

	// Host-reserved keys.
	KeyColorTheme = "workbench.colorTheme"
	KeyZenMode    = "zenMode.enabled"
)

const (
	DefaultDayTheme   = "Default Light+"
	DefaultNightTheme = "Default Dark+"
	DefaultDayTime    = "07:00"
	DefaultNightTime  = "19:00"
)

// ScheduleKeys are the keys whose change requires the triggers to be rebuilt.
var ScheduleKeys = []string{KeyDayTheme, KeyNightTheme, KeyDayTime, KeyNightTime}

// Record is the five-field settings tuple owned by Section.
type Record struct {
	DayTheme       string `json:"dayTheme"`
	NightTheme     string `json:"nightTheme"`
	DayTime        string `json:"dayTime"`
	NightTime      string `json:"nightTime"`
	ZenModeEnabled bool   `json:"enableZenMode"`
}

func Defaults() Record {
	return Record{
		DayTheme:       DefaultDayTheme,
		NightTheme:     DefaultNightTheme,
		DayTime:        DefaultDayTime,
		NightTime:      DefaultNightTime,
		ZenModeEnabled: true,
	}
}

// Validate checks theme names are present and both times are strict HH:MM.
// All problems are reported together; the result wraps ErrInvalid.
func (r Record) Validate() error {
	var errs []error
	if strings.TrimSpace(r.DayTheme) == "" {
		errs = append(errs, errors.New("dayTheme: required"))
	}
	if strings.TrimSpace(r.NightTheme) == "" {
		errs = append(errs, errors.New("nightTheme: required"))
	}
	if _, err := schedule.ParseClock(r.DayTime); err != nil {
		errs = append(errs, fmt.Errorf("dayTime: %w", err))
	}
	if _, err := schedule.ParseClock(r.NightTime); err != nil {
		errs = append(errs, fmt.Errorf("nightTime: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Clocks returns the parsed day and night times.
func (r Record) Clocks() (day, night schedule.Clock, err error) {
	if day, err = schedule.ParseClock(r.DayTime); err != nil {
		return day, night, fmt.Errorf("%w: dayTime: %w", ErrInvalid, err)
	}
	if night, err = schedule.ParseClock(r.NightTime); err != nil {
		return day, night, fmt.Errorf("%w: nightTime: %w", ErrInvalid, err)
	}
	return day, night, nil
}

func (r Record) values() map[string]any {
	return map[string]any{
		KeyDayTheme:      r.DayTheme,
		KeyNightTheme:    r.NightTheme,
		KeyDayTime:       r.DayTime,
		KeyNightTime:     r.NightTime,
		KeyEnableZenMode: r.ZenModeEnabled,
	}
}

// Read returns the stored record with defaults filled in, without validating.
func Read(ctx context.Context, r Reader) (Record, error) {
	def := Defaults()
	var (
		rec Record
		err error
	)
	if rec.DayTheme, err = String(ctx, r, KeyDayTheme, def.DayTheme); err != nil {
		return Record{}, err
	}
	if rec.NightTheme, err = String(ctx, r, KeyNightTheme, def.NightTheme); err != nil {
		return Record{}, err
	}
	if rec.DayTime, err = String(ctx, r, KeyDayTime, def.DayTime); err != nil {
		return Record{}, err
	}
	if rec.NightTime, err = String(ctx, r, KeyNightTime, def.NightTime); err != nil {
		return Record{}, err
	}
	if rec.ZenModeEnabled, err = Bool(ctx, r, KeyEnableZenMode, def.ZenModeEnabled); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Load is Read followed by Validate: a malformed persisted time fails here
// instead of reaching the scheduler.
func Load(ctx context.Context, r Reader) (Record, error) {
	rec, err := Read(ctx, r)
	if err != nil {
		return Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Save validates rec and writes all five fields at global scope in one batch.
func Save(ctx context.Context, st Store, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return st.UpdateMany(ctx, rec.values(), ScopeGlobal)
}
