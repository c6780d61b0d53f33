package checkpoint

import (
	"regexp"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-engine/internal/config"
)

const windowIDLayout = "2006-01-02"

var windowIDPattern = regexp.MustCompile(`^w-\d{4}-\d{2}-\d{2}$`)

// Window is one collection period.
type Window struct {
	ID    string
	Start time.Time // inclusive, midnight in the window timezone
	End   time.Time // exclusive
	Days  int
}

// WindowFor returns the window containing t.
func WindowFor(t time.Time, cfg config.WindowConfig) (Window, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Window{}, err
	}
	startDay, err := config.ParseWeekday(cfg.StartWeekday)
	if err != nil {
		return Window{}, err
	}
	days := cfg.LengthDays
	if days < 1 {
		days = 7
	}

	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if days == 7 {
		back := (int(midnight.Weekday()) - int(startDay) + 7) % 7
		return newWindow(midnight.AddDate(0, 0, -back), days), nil
	}

	// Windows that are not a week long are aligned to the first start weekday
	// on or after the Unix epoch.
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, loc)
	epoch = epoch.AddDate(0, 0, (int(startDay)-int(epoch.Weekday())+7)%7)
	elapsed := daysBetween(epoch, midnight)
	offset := elapsed % days
	if offset < 0 {
		offset += days
	}
	return newWindow(midnight.AddDate(0, 0, -offset), days), nil
}

// ParseWindow rebuilds a window from its identifier.
func ParseWindow(id string, cfg config.WindowConfig) (Window, error) {
	if !windowIDPattern.MatchString(id) {
		return Window{}, eris.Errorf("checkpoint: invalid window id %q", id)
	}
	loc, err := cfg.Location()
	if err != nil {
		return Window{}, err
	}
	start, err := time.ParseInLocation(windowIDLayout, id[2:], loc)
	if err != nil {
		return Window{}, eris.Wrapf(err, "checkpoint: parse window id %q", id)
	}
	w, err := WindowFor(start, cfg)
	if err != nil {
		return Window{}, err
	}
	if w.ID != id {
		return Window{}, eris.Errorf("checkpoint: %q is not a window start, expected %s", id, w.ID)
	}
	return w, nil
}

func newWindow(start time.Time, days int) Window {
	return Window{
		ID:    "w-" + start.Format(windowIDLayout),
		Start: start,
		End:   start.AddDate(0, 0, days),
		Days:  days,
	}
}

// Day returns the 1-based collection day of t. Times outside the window are
// clamped to the first or last day.
func (w Window) Day(t time.Time) int {
	d := daysBetween(w.Start, t.In(w.Start.Location())) + 1
	if d < 1 {
		return 1
	}
	if d > w.Days {
		return w.Days
	}
	return d
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Previous returns the window immediately before w.
func (w Window) Previous() Window {
	return newWindow(w.Start.AddDate(0, 0, -w.Days), w.Days)
}

// Lookback returns the IDs of the n windows before w, most recent first.
func (w Window) Lookback(n int) []string {
	ids := make([]string, 0, n)
	cur := w
	for range n {
		cur = cur.Previous()
		ids = append(ids, cur.ID)
	}
	return ids
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
