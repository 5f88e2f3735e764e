package availability

import (
	"fmt"
	"time"
)

const (
	// WindowDays is how many calendar days after today are offered.
	WindowDays   = 14
	SlotStep     = 30 * time.Minute
	SlotDuration = 30 * time.Minute

	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Slot is a bookable 30 minute appointment start.
type Slot struct {
	ID       string    `json:"id"`
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	DateTime time.Time `json:"datetime"`
}

func (s Slot) End() time.Time {
	return s.DateTime.Add(SlotDuration)
}

// Key returns the booked-set key for the slot.
func (s Slot) Key() BookedSlotKey {
	return BookedSlotKey{Date: s.Date, Time: s.Time}
}

func newSlot(t time.Time) Slot {
	return Slot{
		ID:       SlotID(t.Format(DateLayout), t.Hour(), t.Minute()),
		Date:     t.Format(DateLayout),
		Time:     t.Format(TimeLayout),
		DateTime: t,
	}
}

// SlotID derives the stable identifier for a slot from its date, hour and minute.
func SlotID(date string, hour, minute int) string {
	return fmt.Sprintf("%s-%02d%02d", date, hour, minute)
}

// ParseSlotID splits an id produced by SlotID back into date and "HH:MM".
func ParseSlotID(id string) (date string, clock string, err error) {
	if len(id) != len("2006-01-02-1504") || id[10] != '-' {
		return "", "", fmt.Errorf("malformed slot id %q", id)
	}
	date = id[:10]
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", "", fmt.Errorf("malformed slot id %q: %w", id, err)
	}
	clock = id[11:13] + ":" + id[13:15]
	if _, err := time.Parse(TimeLayout, clock); err != nil {
		return "", "", fmt.Errorf("malformed slot id %q: %w", id, err)
	}
	return date, clock, nil
}

// SlotAt rebuilds the slot an appointment occupies from its stored date and time.
func SlotAt(date, clock string, loc *time.Location) (Slot, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return Slot{}, fmt.Errorf("slot at %s %s: %w", date, clock, err)
	}
	return newSlot(t), nil
}

// BookedSlotKey identifies an occupied (date, "HH:MM") pair.
type BookedSlotKey struct {
	Date string
	Time string
}

func (k BookedSlotKey) String() string {
	return k.Date + "T" + k.Time
}

// BookedSet is keyed by BookedSlotKey.String.
type BookedSet map[string]struct{}

func NewBookedSet(keys ...BookedSlotKey) BookedSet {
	set := make(BookedSet, len(keys))
	for _, k := range keys {
		set[k.String()] = struct{}{}
	}
	return set
}

func (s BookedSet) Has(date, clock string) bool {
	_, ok := s[BookedSlotKey{Date: date, Time: clock}.String()]
	return ok
}

// AvailableSlots enumerates bookable slots for the WindowDays calendar days after
// now's day in loc. Slots at or before now, on Sundays, outside tmpl or present in
// booked are skipped. The result is chronological.
func AvailableSlots(now time.Time, loc *time.Location, tmpl Template, booked BookedSet) []Slot {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()

	var slots []Slot
	for offset := 1; offset <= WindowDays; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
		for _, r := range tmpl.RangesFor(day.Weekday()) {
			windowStart := time.Date(day.Year(), day.Month(), day.Day(), r.StartHour, 0, 0, 0, loc)
			windowEnd := time.Date(day.Year(), day.Month(), day.Day(), r.EndHour, 0, 0, 0, loc)
			for _, start := range gridStarts(windowStart, windowEnd, SlotDuration, SlotStep, now) {
				slot := newSlot(start)
				if booked.Has(slot.Date, slot.Time) {
					continue
				}
				slots = append(slots, slot)
			}
		}
	}
	return slots
}

// gridStarts returns start times stepping through [windowStart, windowEnd) where a
// duration long booking fits and the start is strictly after now.
func gridStarts(windowStart, windowEnd time.Time, duration, step time.Duration, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}

	var starts []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if !t.After(now) {
			continue
		}
		starts = append(starts, t)
	}
	return starts
}
