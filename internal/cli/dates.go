// Package cli holds parsing helpers shared by command flags.
package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Matches "2h", "30m ago", "1d", "2w ago".
var relativeRegex = regexp.MustCompile(`^(\d+)\s*(w|d|h|m)(\s*ago)?$`)

// Matches "18:00" or "9:30".
var clockRegex = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// ParseSince turns a --since expression into an instant at or before now.
// Durations always look back ("2h" is two hours ago). A clock time means
// today, or yesterday when it has not happened yet, so "since 18:00" after
// midnight still covers the evening shift. Weekdays mean their most recent
// start, today included. Dates and RFC3339 are accepted as is.
func ParseSince(s string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	input := strings.ToLower(raw)

	switch input {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now).AddDate(0, 0, -1), nil
	}

	if matches := relativeRegex.FindStringSubmatch(input); matches != nil {
		value, err := strconv.Atoi(matches[1])
		if err != nil || value < 1 {
			return time.Time{}, fmt.Errorf("invalid relative time %q", raw)
		}
		return now.Add(-time.Duration(value) * unitDuration[matches[2]]), nil
	}

	if matches := clockRegex.FindStringSubmatch(input); matches != nil {
		hour, _ := strconv.Atoi(matches[1])
		minute, _ := strconv.Atoi(matches[2])
		t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if t.After(now) {
			t = t.AddDate(0, 0, -1)
		}
		return t, nil
	}

	if weekday, ok := weekdayMap[strings.TrimPrefix(input, "last ")]; ok {
		base := startOfDay(now)
		delta := (int(base.Weekday()) - int(weekday) + 7) % 7
		if strings.HasPrefix(input, "last ") && delta == 0 {
			delta = 7
		}
		return base.AddDate(0, 0, -delta), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", raw, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("invalid time expression %q (try 2h, 18:00, yesterday, monday or 2026-01-28)", raw)
}

var unitDuration = map[string]time.Duration{
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var weekdayMap = map[string]time.Weekday{
	"sun":       time.Sunday,
	"sunday":    time.Sunday,
	"mon":       time.Monday,
	"monday":    time.Monday,
	"tue":       time.Tuesday,
	"tues":      time.Tuesday,
	"tuesday":   time.Tuesday,
	"wed":       time.Wednesday,
	"wednesday": time.Wednesday,
	"thu":       time.Thursday,
	"thurs":     time.Thursday,
	"thursday":  time.Thursday,
	"fri":       time.Friday,
	"friday":    time.Friday,
	"sat":       time.Saturday,
	"saturday":  time.Saturday,
}
