// Package market answers the time questions the scheduler asks each cycle:
// is the exchange open, and is this the minute for a reset or health check.
package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimezone = "America/New_York"
	DefaultOpen     = "09:15"
	DefaultClose    = "16:00"

	// DailyResetHour is the exchange-local hour from which the daily wipe may run.
	DailyResetHour = 16
)

type Config struct {
	Timezone string
	Open     string
	Close    string
}

// Calendar evaluates exchange-local time. Open and close are fractional
// hours so 9.25 and "09:15" describe the same bound.
type Calendar struct {
	loc   *time.Location
	open  float64
	close float64
}

func NewCalendar(cfg Config) (*Calendar, error) {
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Open == "" {
		cfg.Open = DefaultOpen
	}
	if cfg.Close == "" {
		cfg.Close = DefaultClose
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", cfg.Timezone, err)
	}

	open, err := ParseHour(cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("invalid market open: %w", err)
	}
	closeAt, err := ParseHour(cfg.Close)
	if err != nil {
		return nil, fmt.Errorf("invalid market close: %w", err)
	}
	if open >= closeAt {
		return nil, fmt.Errorf("market open %s must be before close %s", cfg.Open, cfg.Close)
	}

	return &Calendar{loc: loc, open: open, close: closeAt}, nil
}

// ParseHour accepts "HH:MM" or a fractional hour such as "9.25".
func ParseHour(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if hh, mm, ok := strings.Cut(s, ":"); ok {
		h, err := strconv.Atoi(hh)
		if err != nil {
			return 0, fmt.Errorf("invalid hour in %q", s)
		}
		m, err := strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid minute in %q", s)
		}
		if h < 0 || h > 24 {
			return 0, fmt.Errorf("hour out of range in %q", s)
		}
		return float64(h) + float64(m)/60, nil
	}

	h, err := strconv.ParseFloat(s, 64)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour %q", s)
	}
	return h, nil
}

// Local converts t to exchange-local time.
func (c *Calendar) Local(t time.Time) time.Time {
	return t.In(c.loc)
}

func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := HolidayOn(c.Local(t))
	return ok
}

// IsOpen reports whether t falls on a trading weekday within [open, close).
func (c *Calendar) IsOpen(t time.Time) bool {
	local := c.Local(t)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	if c.IsHoliday(local) {
		return false
	}
	hour := fractionalHour(local)
	return hour >= c.open && hour < c.close
}

// IsWeeklyReset matches Friday 18:00 exchange time to the minute.
func (c *Calendar) IsWeeklyReset(t time.Time) bool {
	local := c.Local(t)
	return local.Weekday() == time.Friday && local.Hour() == 18 && local.Minute() == 0
}

// InDailyResetWindow is true once the market is closed for the day. The
// caller gates it to one wipe per date.
func (c *Calendar) InDailyResetWindow(t time.Time) bool {
	return !c.IsOpen(t) && c.Local(t).Hour() >= DailyResetHour
}

// IsHealthCheckTime fires on the hour and half hour while open, and on the
// hour while closed.
func (c *Calendar) IsHealthCheckTime(t time.Time) bool {
	minute := t.In(c.loc).Minute()
	if c.IsOpen(t) {
		return minute == 0 || minute == 30
	}
	return minute == 0
}

// Date is the exchange-local calendar date of t.
func (c *Calendar) Date(t time.Time) string {
	return c.Local(t).Format(time.DateOnly)
}

func fractionalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}
