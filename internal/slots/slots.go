// Package slots defines the clinic's fixed daily slot catalog and the
// shift arithmetic derived from it.
package slots

import (
	"time"
)

type Shift string

const (
	ShiftMorning   Shift = "MORNING"
	ShiftAfternoon Shift = "AFTERNOON"
)

// morningCutoffHour is the clinic-local hour at which the afternoon shift
// begins. A booking at local 10:59 is morning, 11:00 is afternoon.
const morningCutoffHour = 11

// Slot is one bookable window, wall-clock HH:MM on a 24h clock.
type Slot struct {
	Start string
	End   string
}

// Catalog is an immutable ordered list of slots. It is injected into the
// allocator rather than read from a package global so tests can substitute
// alternate catalogs.
type Catalog struct {
	slots []Slot
}

// NewCatalog copies the given slots into a catalog. The slice must be
// ordered by start time; the catalog does not re-sort.
func NewCatalog(ss []Slot) Catalog {
	cp := make([]Slot, len(ss))
	copy(cp, ss)
	return Catalog{slots: cp}
}

// Default returns the clinic's production catalog: two operating windows
// (07:00-11:00 and 13:00-17:00), 30-minute slots with 5-minute gaps,
// 14 slots total.
func Default() Catalog {
	return NewCatalog([]Slot{
		{Start: "07:00", End: "07:30"},
		{Start: "07:35", End: "08:05"},
		{Start: "08:10", End: "08:40"},
		{Start: "08:45", End: "09:15"},
		{Start: "09:20", End: "09:50"},
		{Start: "09:55", End: "10:25"},
		{Start: "10:30", End: "11:00"},
		{Start: "13:00", End: "13:30"},
		{Start: "13:35", End: "14:05"},
		{Start: "14:10", End: "14:40"},
		{Start: "14:45", End: "15:15"},
		{Start: "15:20", End: "15:50"},
		{Start: "15:55", End: "16:25"},
		{Start: "16:30", End: "17:00"},
	})
}

// Find looks up a slot by exact start time match.
func (c Catalog) Find(hhmm string) (Slot, bool) {
	for _, s := range c.slots {
		if s.Start == hhmm {
			return s, true
		}
	}
	return Slot{}, false
}

// FindAt looks up the slot whose start equals t's HH:MM.
func (c Catalog) FindAt(t time.Time) (Slot, bool) {
	return c.Find(t.UTC().Format("15:04"))
}

// Slots returns a copy of the catalog entries.
func (c Catalog) Slots() []Slot {
	cp := make([]Slot, len(c.slots))
	copy(cp, c.slots)
	return cp
}

// Len reports the number of slots in the catalog.
func (c Catalog) Len() int { return len(c.slots) }

// Bounds resolves the slot's wall-clock times to concrete instants on t's
// calendar day.
func (s Slot) Bounds(t time.Time) (time.Time, time.Time) {
	day := t.UTC()
	start := atClock(day, s.Start)
	end := atClock(day, s.End)
	return start, end
}

// Within reports whether the slot lies inside an operating window given as
// HH:MM open/close strings. Lexicographic comparison is exact for
// zero-padded HH:MM.
func (s Slot) Within(open, close string) bool {
	return s.Start >= open && s.End <= close
}

func atClock(day time.Time, hhmm string) time.Time {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC)
}

// ShiftOf derives the shift from the appointment instant. The clinic-local
// hour is the stored UTC hour minus utcOffset; this must stay consistent
// with how shift values were written into the schedule records.
func ShiftOf(t time.Time, utcOffset int) Shift {
	h := (t.UTC().Hour() - utcOffset) % 24
	if h < 0 {
		h += 24
	}
	if h < morningCutoffHour {
		return ShiftMorning
	}
	return ShiftAfternoon
}

// DayOf truncates an instant to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
