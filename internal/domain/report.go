package domain

import (
	"sort"
	"time"
)

// MemberVisit is one record inside a daily summary.
type MemberVisit struct {
	MemberName      string
	CheckInTime     time.Time
	CheckOutTime    *time.Time
	DurationMinutes *int
}

// DayStats aggregates the records of one day.
type DayStats struct {
	Date            string
	TotalAttendance int
	UniqueMembers   int
	Members         []MemberVisit
}

// CalendarVisit is one record inside a calendar cell.
type CalendarVisit struct {
	Name            string
	CheckInTime     string
	DurationMinutes *int
}

// CalendarDay is one cell of a month calendar.
type CalendarDay struct {
	Day             int
	TotalAttendance int
	UniqueMembers   int
	Members         []CalendarVisit
}

// MonthCalendar lists every day of a month, including days without visits.
type MonthCalendar struct {
	Year      int
	Month     time.Month
	MonthName string
	Days      []CalendarDay
}

// SummarizeByDay groups records by check-in day, newest day first.
func SummarizeByDay(records []AttendanceRecord, days DayBoundary) []DayStats {
	sorted := sortedByCheckIn(records)

	index := make(map[string]int)
	unique := make(map[string]map[string]struct{})
	stats := make([]DayStats, 0)
	for _, rec := range sorted {
		key := days.DayOf(rec.CheckInTime).Key()
		i, ok := index[key]
		if !ok {
			i = len(stats)
			index[key] = i
			unique[key] = make(map[string]struct{})
			stats = append(stats, DayStats{Date: key, Members: []MemberVisit{}})
		}
		stats[i].TotalAttendance++
		unique[key][rec.MemberID] = struct{}{}
		stats[i].UniqueMembers = len(unique[key])
		stats[i].Members = append(stats[i].Members, MemberVisit{
			MemberName:      rec.MemberName,
			CheckInTime:     rec.CheckInTime,
			CheckOutTime:    rec.CheckOutTime,
			DurationMinutes: rec.DurationMinutes,
		})
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Date > stats[j].Date
	})
	return stats
}

// BuildCalendar lays records out over the days of the given month.
// Records outside the month are ignored.
func BuildCalendar(records []AttendanceRecord, year int, month time.Month, days DayBoundary) MonthCalendar {
	start, end := days.Month(year, month)
	length := end.AddDate(0, 0, -1).Day()

	cal := MonthCalendar{
		Year:      year,
		Month:     month,
		MonthName: month.String(),
		Days:      make([]CalendarDay, length),
	}
	unique := make([]map[string]struct{}, length)
	for i := range cal.Days {
		cal.Days[i] = CalendarDay{Day: i + 1, Members: []CalendarVisit{}}
		unique[i] = make(map[string]struct{})
	}

	loc := days.Location()
	for _, rec := range sortedByCheckIn(records) {
		if rec.CheckInTime.Before(start) || !rec.CheckInTime.Before(end) {
			continue
		}
		local := rec.CheckInTime.In(loc)
		i := local.Day() - 1
		cal.Days[i].TotalAttendance++
		unique[i][rec.MemberID] = struct{}{}
		cal.Days[i].UniqueMembers = len(unique[i])
		cal.Days[i].Members = append(cal.Days[i].Members, CalendarVisit{
			Name:            rec.MemberName,
			CheckInTime:     local.Format("15:04"),
			DurationMinutes: rec.DurationMinutes,
		})
	}
	return cal
}

func sortedByCheckIn(records []AttendanceRecord) []AttendanceRecord {
	out := make([]AttendanceRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CheckInTime.Before(out[j].CheckInTime)
	})
	return out
}
