package domain

import "time"

const dayKeyLayout = "2006-01-02"

// Day is the half-open interval [Start, End) of one gym-local day.
type Day struct {
	Start time.Time
	End   time.Time
}

// Key formats the day as YYYY-MM-DD in its own location.
func (d Day) Key() string {
	return d.Start.Format(dayKeyLayout)
}

// Contains reports whether t falls inside the day.
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// DayBoundary is the single definition of "day" used by the open-session
// lookup and by every report that groups by day.
type DayBoundary struct {
	loc *time.Location
}

// NewDayBoundary builds a boundary at midnight in loc; nil means UTC.
func NewDayBoundary(loc *time.Location) DayBoundary {
	if loc == nil {
		loc = time.UTC
	}
	return DayBoundary{loc: loc}
}

// Location returns the zone whose midnight starts a day.
func (b DayBoundary) Location() *time.Location {
	if b.loc == nil {
		return time.UTC
	}
	return b.loc
}

// DayOf returns the day containing t.
func (b DayBoundary) DayOf(t time.Time) Day {
	loc := b.Location()
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// Month returns the half-open interval covering a calendar month.
func (b DayBoundary) Month(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, b.Location())
	return start, start.AddDate(0, 1, 0)
}
