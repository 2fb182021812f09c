package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BusinessHours restricts automatic replies to a daily window. End before
// Start means the window crosses midnight ("19:00"-"02:00"). Start equal to
// End means all day.
type BusinessHours struct {
	Start string `yaml:"start" toml:"start" json:"start"`
	End   string `yaml:"end" toml:"end" json:"end"`
	// Days limits the window to some weekdays ("mon", "tue", ...). Empty
	// means every day. For windows crossing midnight the day is the one the
	// window opened on.
	Days []string `yaml:"days" toml:"days" json:"days"`
	// TimeZone is an IANA name; empty means local time.
	TimeZone string `yaml:"timezone" toml:"timezone" json:"timezone"`
}

type window struct {
	start, end int // minutes since midnight
	days       map[time.Weekday]bool
	loc        *time.Location
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func (h BusinessHours) compile() (*window, error) {
	start, err := parseClock(h.Start)
	if err != nil {
		return nil, fmt.Errorf("business hours start: %w", err)
	}
	end, err := parseClock(h.End)
	if err != nil {
		return nil, fmt.Errorf("business hours end: %w", err)
	}
	w := &window{start: start, end: end, loc: time.Local}
	if h.TimeZone != "" {
		loc, err := time.LoadLocation(h.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("business hours timezone: %w", err)
		}
		w.loc = loc
	}
	if len(h.Days) > 0 {
		w.days = make(map[time.Weekday]bool, len(h.Days))
		for _, d := range h.Days {
			key := strings.ToLower(strings.TrimSpace(d))
			if len(key) > 3 {
				key = key[:3]
			}
			wd, ok := weekdays[key]
			if !ok {
				return nil, fmt.Errorf("business hours: unknown day %q", d)
			}
			w.days[wd] = true
		}
	}
	return w, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func (w *window) dayOK(d time.Weekday) bool {
	return w.days == nil || w.days[d]
}

func (w *window) contains(t time.Time) bool {
	t = t.In(w.loc)
	mins := t.Hour()*60 + t.Minute()
	day := t.Weekday()

	switch {
	case w.start == w.end:
		return w.dayOK(day)
	case w.start < w.end:
		return mins >= w.start && mins < w.end && w.dayOK(day)
	case mins >= w.start:
		return w.dayOK(day)
	case mins < w.end:
		return w.dayOK((day + 6) % 7)
	}
	return false
}
