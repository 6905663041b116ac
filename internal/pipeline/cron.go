package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField matches one field of a five-field cron expression. A nil set
// is a wildcard.
type cronField struct {
	set map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.set == nil || f.set[v]
}

// parseCronField accepts "*", "*/n", "a", "a-b", "a-b/n" and comma lists of
// those, each bounded to [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step, part = n, base
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			from, to = n, n
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q out of range %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return cronField{set: set}, nil
}

// Schedule is a parsed "minute hour day-of-month month day-of-week"
// expression evaluated in UTC.
type Schedule struct {
	minute, hour, dom, month, dow cronField
}

// ParseSchedule parses a five-field cron expression.
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("cron %q: %s: %w", expr, names[i], err)
		}
		parsed[i] = cf
	}
	return Schedule{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, nil
}

func (s Schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}

// Next returns the first matching minute strictly after after. It gives up
// after a year and returns the zero time.
func (s Schedule) Next(after time.Time) time.Time {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 0)
	for t.Before(limit) {
		if s.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}
