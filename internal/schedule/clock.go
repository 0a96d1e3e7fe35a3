package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidClock is wrapped by every ParseClock failure.
var ErrInvalidClock = errors.New("invalid clock time")

var reClock = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// Clock is a local wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a zero-padded 24-hour "HH:MM" string.
//
// One-digit fields ("7:0") and out-of-range values ("25:00", "12:60") are
// rejected.
func ParseClock(raw string) (Clock, error) {
	s := strings.TrimSpace(raw)
	m := reClock.FindStringSubmatch(s)
	if len(m) != 3 {
		return Clock{}, fmt.Errorf("%w %q: expected zero-padded HH:MM", ErrInvalidClock, raw)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 {
		return Clock{}, fmt.Errorf("%w %q: hour must be 00-23", ErrInvalidClock, raw)
	}
	if mm > 59 {
		return Clock{}, fmt.Errorf("%w %q: minute must be 00-59", ErrInvalidClock, raw)
	}
	return Clock{Hour: h, Minute: mm}, nil
}

// MustParseClock is ParseClock for constants; it panics on error.
func MustParseClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Spec returns the 5-field cron expression (minute first) firing daily at c.
func (c Clock) Spec() string { return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour) }
