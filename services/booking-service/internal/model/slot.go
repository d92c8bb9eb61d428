package model

import (
	"strings"
	"time"
)

type Day string

const (
	Monday    Day = "monday"
	Tuesday   Day = "tuesday"
	Wednesday Day = "wednesday"
	Thursday  Day = "thursday"
	Friday    Day = "friday"
	Saturday  Day = "saturday"
	Sunday    Day = "sunday"
)

var weekOrder = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// ParseDay accepts full or three letter day names in any case.
func ParseDay(raw string) (Day, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, d := range weekOrder {
		if v == string(d) || (len(v) == 3 && strings.HasPrefix(string(d), v)) {
			return d, true
		}
	}
	return "", false
}

// DayOf returns the weekday of t in its own location.
func DayOf(t time.Time) Day {
	return weekOrder[(int(t.Weekday())+6)%7]
}

// Index is the position of the day within a Monday-first week.
func (d Day) Index() int {
	for i, w := range weekOrder {
		if w == d {
			return i
		}
	}
	return len(weekOrder)
}

// Slot is a provider-owned weekly window. Start and End are "HH:MM".
type Slot struct {
	ID         string
	ProviderID string
	Day        Day
	StartTime  string
	EndTime    string
	Reserved   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ParseClock validates a "HH:MM" wall clock time.
func ParseClock(raw string) (string, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return t.Format("15:04"), true
}
