package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday parses a lower- or mixed-case English weekday name.
func ParseWeekday(name string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, eris.Errorf("config: unknown weekday %q", name)
	}
	return wd, nil
}

// Location loads the configured window timezone, defaulting to UTC.
func (w WindowConfig) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", w.Timezone)
	}
	return loc, nil
}
