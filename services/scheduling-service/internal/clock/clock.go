// Package clock holds pure time reasoning for the scheduling engine:
// minute-of-day arithmetic, slot grids, and past-instant checks. It keeps no
// state and reads no clocks of its own; callers supply "now".
package clock

import (
	"fmt"
	"time"
)

// TimeOfDay is a clock time expressed as minutes since midnight, minute
// granularity. Valid values lie in [0, 1440]; 1440 is allowed so a closing
// time of midnight can be expressed as an exclusive bound.
type TimeOfDay int

const MinutesPerDay = 24 * 60

// ParseTimeOfDay parses a wall-clock string in "15:04" form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= MinutesPerDay
}

// Aligned reports whether t sits on the slot grid of the given width.
func (t TimeOfDay) Aligned(stepMinutes int) bool {
	return stepMinutes > 0 && int(t)%stepMinutes == 0
}

// Slot is one fixed-width interval on the clinic's slot grid, half-open
// [Start, End).
type Slot struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Grid returns the contiguous, non-overlapping slot sequence covering
// [open, close) in chronological order. A window that does not divide evenly
// stops at the last slot that still ends at or before close.
func Grid(open, close TimeOfDay, stepMinutes int) []Slot {
	if stepMinutes <= 0 || !open.Valid() || !close.Valid() || close <= open {
		return nil
	}

	step := TimeOfDay(stepMinutes)
	var slots []Slot
	for t := open; t+step <= close; t += step {
		slots = append(slots, Slot{Start: t, End: t + step})
	}
	return slots
}

// DateOf truncates an instant to its UTC calendar date (midnight UTC).
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AtTime combines a calendar date with a time of day into a UTC instant.
func AtTime(date time.Time, tod TimeOfDay) time.Time {
	return DateOf(date).Add(time.Duration(tod) * time.Minute)
}

// IsPast reports whether the instant is at or before now. A slot that starts
// exactly now is already past for booking purposes.
func IsPast(instant, now time.Time) bool {
	return !instant.After(now)
}

// RoundUpToNext returns the first grid-aligned time of day strictly after the
// given instant: the earliest start still bookable today. The result may be
// MinutesPerDay or beyond when the day has run out of grid points.
func RoundUpToNext(t time.Time, stepMinutes int) TimeOfDay {
	if stepMinutes <= 0 {
		return MinutesPerDay
	}
	t = t.UTC()
	minutes := t.Hour()*60 + t.Minute()
	return TimeOfDay((minutes/stepMinutes + 1) * stepMinutes)
}
