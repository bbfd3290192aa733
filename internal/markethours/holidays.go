package markethours

import "time"

// NYSE full-day holidays. Early-close half days (day after Thanksgiving,
// Christmas Eve) are treated as normal sessions here; the feed simply
// goes quiet after 1:00 PM on those days.
var nyseHolidays = []struct {
	year  int
	month time.Month
	day   int
}{
	// 2025
	{2025, time.January, 1},   // New Year's Day
	{2025, time.January, 20},  // Martin Luther King, Jr. Day
	{2025, time.February, 17}, // Washington's Birthday
	{2025, time.April, 18},    // Good Friday
	{2025, time.May, 26},      // Memorial Day
	{2025, time.June, 19},     // Juneteenth
	{2025, time.July, 4},      // Independence Day
	{2025, time.September, 1}, // Labor Day
	{2025, time.November, 27}, // Thanksgiving Day
	{2025, time.December, 25}, // Christmas Day

	// 2026
	{2026, time.January, 1},   // New Year's Day
	{2026, time.January, 19},  // Martin Luther King, Jr. Day
	{2026, time.February, 16}, // Washington's Birthday
	{2026, time.April, 3},     // Good Friday
	{2026, time.May, 25},      // Memorial Day
	{2026, time.June, 19},     // Juneteenth
	{2026, time.July, 3},      // Independence Day (observed, Jul 4 is a Saturday)
	{2026, time.September, 7}, // Labor Day
	{2026, time.November, 26}, // Thanksgiving Day
	{2026, time.December, 25}, // Christmas Day
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(nyseHolidays))
	for _, h := range nyseHolidays {
		holidaySet[dateKey(h.year, h.month, h.day)] = true
	}
}

// IsHoliday reports whether the date (in Eastern time) is an exchange
// holiday. Dates outside the maintained years are assumed open.
func IsHoliday(t time.Time) bool {
	et := t.In(Eastern)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, Eastern).Format("2006-01-02")
}
