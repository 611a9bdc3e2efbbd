package repost

import (
	"fmt"
	"strings"
	"time"
)

// Window restricts when due jobs may run.
type Window struct {
	Enabled bool
	// Start and End are offsets from midnight. Start after End wraps midnight.
	Start         time.Duration
	End           time.Duration
	ExemptWeekday *time.Weekday
	// Location is the zone the bounds are expressed in. Nil means UTC.
	Location *time.Location
}

// ParseWindow builds a window from HH:MM bounds and an optional weekday name.
func ParseWindow(enabled bool, start, end, exemptWeekday string) (Window, error) {
	w := Window{Enabled: enabled}
	var err error
	if w.Start, err = parseClock(start); err != nil {
		return Window{}, err
	}
	if w.End, err = parseClock(end); err != nil {
		return Window{}, err
	}
	if day := strings.TrimSpace(exemptWeekday); day != "" {
		wd, err := parseWeekday(day)
		if err != nil {
			return Window{}, err
		}
		w.ExemptWeekday = &wd
	}
	return w, nil
}

func parseClock(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("repost: invalid time of day %q", raw)
}

func parseWeekday(raw string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), raw) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("repost: invalid weekday %q", raw)
}

// Allows reports whether now falls inside the window.
func (w Window) Allows(now time.Time) bool {
	if !w.Enabled {
		return true
	}
	if w.Location != nil {
		now = now.In(w.Location)
	} else {
		now = now.UTC()
	}
	if w.ExemptWeekday != nil && now.Weekday() == *w.ExemptWeekday {
		return true
	}
	y, m, d := now.Date()
	offset := now.Sub(time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
	if w.Start < w.End {
		return offset >= w.Start && offset <= w.End
	}
	return offset >= w.Start || offset <= w.End
}
