package availability

import (
	"context"
	"log/slog"
	"time"
)

// BookedLister reads occupied slots on or after fromDate.
type BookedLister interface {
	ListBookedSlotKeys(ctx context.Context, fromDate string) ([]BookedSlotKey, error)
}

// Observer receives one call per computation.
type Observer interface {
	ObserveSlotComputation(degraded bool, offered int)
}

type Result struct {
	Timezone string
	Slots    []Slot
	// Degraded is set when booked slots could not be read and were treated as none.
	Degraded bool
}

func (r Result) ByID(id string) (Slot, bool) {
	for _, s := range r.Slots {
		if s.ID == id {
			return s, true
		}
	}
	return Slot{}, false
}

// OnDate filters the result to a single calendar date.
func (r Result) OnDate(date string) Result {
	out := Result{Timezone: r.Timezone, Degraded: r.Degraded, Slots: []Slot{}}
	for _, s := range r.Slots {
		if s.Date == date {
			out.Slots = append(out.Slots, s)
		}
	}
	return out
}

type Finder struct {
	lister   BookedLister
	tmpl     Template
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

type Option func(*Finder)

func WithClock(now func() time.Time) Option {
	return func(f *Finder) { f.now = now }
}

func WithObserver(o Observer) Option {
	return func(f *Finder) { f.observer = o }
}

func NewFinder(lister BookedLister, tmpl Template, loc *time.Location, logger *slog.Logger, opts ...Option) *Finder {
	if loc == nil {
		loc = time.UTC
	}
	f := &Finder{
		lister: lister,
		tmpl:   tmpl,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Finder) Location() *time.Location {
	return f.loc
}

func (f *Finder) Now() time.Time {
	return f.now()
}

// Find computes the currently offered slots. A failed booked-slot read never fails
// the call: the set is treated as empty and Degraded is set.
func (f *Finder) Find(ctx context.Context) Result {
	now := f.now()
	fromDate := now.In(f.loc).Format(DateLayout)

	degraded := false
	keys, err := f.lister.ListBookedSlotKeys(ctx, fromDate)
	if err != nil {
		degraded = true
		keys = nil
		f.logger.WarnContext(ctx, "booked slots unavailable; offering full template", "err", err)
	}

	slots := AvailableSlots(now, f.loc, f.tmpl, NewBookedSet(keys...))
	if slots == nil {
		slots = []Slot{}
	}
	if f.observer != nil {
		f.observer.ObserveSlotComputation(degraded, len(slots))
	}
	return Result{
		Timezone: f.loc.String(),
		Slots:    slots,
		Degraded: degraded,
	}
}
