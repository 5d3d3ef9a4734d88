package common

import "time"

// DateLayout is the calendar-date form used in file names, flags and API output.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// TruncateDay drops the clock part of t and returns midnight UTC of the same calendar day.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days in the closed interval [from, to].
// It returns 0 if to is before from.
func DaysBetween(from, to time.Time) int {
	from, to = TruncateDay(from), TruncateDay(to)
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}
