package utils

import (
	"fmt"
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Clock is a wall-clock time of day, in minutes since midnight.
type Clock int

// NewClock builds a Clock from hour and minute.
func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

// MustClock is ParseClock for constants.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t, truncated to the minute.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

// On places the clock on the calendar day of ref, in ref's location.
func (c Clock) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), int(c)/60, int(c)%60, 0, 0, ref.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is a half-open [Start, End) span of the trading day.
type Window struct {
	Start Clock
	End   Clock
}

// Contains reports whether t falls inside the window on its own day.
func (w Window) Contains(t time.Time) bool {
	start := w.Start.On(t)
	return !t.Before(start) && t.Before(w.End.On(t))
}

// NowIST returns the current time in the market timezone.
func NowIST() time.Time {
	return time.Now().In(IndiaLocation)
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
