package availability

import (
	"fmt"
	"time"
)

// HourRange is a half-open range of whole hours, [StartHour, EndHour).
type HourRange struct {
	StartHour int
	EndHour   int
}

func (h HourRange) contains(hour, minute int) bool {
	m := hour*60 + minute
	return m >= h.StartHour*60 && m < h.EndHour*60
}

// Template is the weekly business-hours schedule. Sunday is always closed.
type Template struct {
	Weekday  []HourRange
	Saturday []HourRange
}

// DefaultTemplate is the studio's bookable schedule.
func DefaultTemplate() Template {
	return Template{
		Weekday:  []HourRange{{StartHour: 10, EndHour: 12}, {StartHour: 14, EndHour: 17}},
		Saturday: []HourRange{{StartHour: 14, EndHour: 17}},
	}
}

// RangesFor returns the ranges for wd, or nil when the day is closed.
func (t Template) RangesFor(wd time.Weekday) []HourRange {
	switch wd {
	case time.Sunday:
		return nil
	case time.Saturday:
		return t.Saturday
	default:
		return t.Weekday
	}
}

// Contains reports whether hour:minute on weekday wd falls inside an open range.
func (t Template) Contains(wd time.Weekday, hour, minute int) bool {
	for _, r := range t.RangesFor(wd) {
		if r.contains(hour, minute) {
			return true
		}
	}
	return false
}

// Validate checks that each day's ranges are in bounds, ascending and disjoint.
func (t Template) Validate() error {
	for name, ranges := range map[string][]HourRange{"weekday": t.Weekday, "saturday": t.Saturday} {
		prevEnd := 0
		for i, r := range ranges {
			if r.StartHour < 0 || r.EndHour > 24 || r.StartHour >= r.EndHour {
				return fmt.Errorf("%s range %d: invalid hours [%d,%d)", name, i, r.StartHour, r.EndHour)
			}
			if i > 0 && r.StartHour < prevEnd {
				return fmt.Errorf("%s range %d: overlaps or precedes previous range", name, i)
			}
			prevEnd = r.EndHour
		}
	}
	return nil
}
