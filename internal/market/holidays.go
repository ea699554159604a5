package market

import "time"

// Holiday is a full-day exchange closure, keyed by its observed date.
type Holiday struct {
	Name string
	Date time.Time
}

// Holidays returns the NYSE full-day closures observed in year. Fixed-date
// holidays falling on Saturday move to Friday and on Sunday to Monday,
// except New Year's Day, which is not observed on the prior December 31.
func Holidays(year int) []Holiday {
	holidays := []Holiday{
		{"New Year's Day", newYears(year)},
		{"Martin Luther King Jr. Day", nthWeekday(year, time.January, time.Monday, 3)},
		{"Washington's Birthday", nthWeekday(year, time.February, time.Monday, 3)},
		{"Good Friday", easter(year).AddDate(0, 0, -2)},
		{"Memorial Day", lastWeekday(year, time.May, time.Monday)},
	}
	if year >= 2022 {
		holidays = append(holidays, Holiday{"Juneteenth", observed(date(year, time.June, 19))})
	}
	holidays = append(holidays,
		Holiday{"Independence Day", observed(date(year, time.July, 4))},
		Holiday{"Labor Day", nthWeekday(year, time.September, time.Monday, 1)},
		Holiday{"Thanksgiving Day", nthWeekday(year, time.November, time.Thursday, 4)},
		Holiday{"Christmas Day", observed(date(year, time.December, 25))},
	)

	out := holidays[:0]
	for _, h := range holidays {
		if !h.Date.IsZero() {
			out = append(out, h)
		}
	}
	return out
}

// HolidayOn reports the closure observed on the calendar date of t, if any.
func HolidayOn(t time.Time) (Holiday, bool) {
	day := date(t.Year(), t.Month(), t.Day())
	for _, h := range Holidays(t.Year()) {
		if h.Date.Equal(day) {
			return h, true
		}
	}
	return Holiday{}, false
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func newYears(year int) time.Time {
	d := date(year, time.January, 1)
	switch d.Weekday() {
	case time.Saturday:
		return time.Time{}
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	last := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// easter computes Western Easter Sunday with the anonymous Gregorian algorithm.
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}
