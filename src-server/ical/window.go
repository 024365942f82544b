package ical

import "time"

// Expanding past this year is always a configuration mistake, usually an
// UNTIL someone typed with five digits.
const MaxWindowYear = 9999

// Window is the half-open time range [Start, End) a sync run is scoped to.
// It bounds both recurrence expansion and deletion-by-absence.
type Window struct {
	Start time.Time
	End   time.Time
}

// DayWindow normalizes a date to the UTC calendar-day window
// [startOfDay, startOfDay+24h).
func DayWindow(t time.Time) Window {
	start := time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return Window{
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

// AllTime returns the widest window the engine accepts.
func AllTime() Window {
	return Window{
		Start: time.Unix(0, 0).UTC(),
		End:   time.Date(MaxWindowYear, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Clamped caps the window end so a caller-supplied range can't push the
// expansion past MaxWindowYear.
func (w Window) Clamped() Window {
	if w.End.Year() > MaxWindowYear {
		w.End = time.Date(MaxWindowYear, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return w
}

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}
