package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Booking outcomes recorded by the HTTP handlers.
const (
	OutcomeBooked      = "booked"
	OutcomeConflict    = "conflict"
	OutcomeStale       = "stale_slot"
	OutcomeReplayed    = "replayed"
	OutcomeRescheduled = "rescheduled"
	OutcomeCancelled   = "cancelled"
	OutcomeCompleted   = "completed"
)

type Booking struct {
	slotComputations *prometheus.CounterVec
	slotsOffered     prometheus.Gauge
	bookings         *prometheus.CounterVec
	emails           *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Booking {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Booking{
		slotComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "booking",
			Name:      "slot_computations_total",
			Help:      "Slot availability computations, labelled by whether booked slots could be read.",
		}, []string{"degraded"}),
		slotsOffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "studio",
			Subsystem: "booking",
			Name:      "slots_offered",
			Help:      "Slots offered by the most recent computation.",
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "booking",
			Name:      "appointment_changes_total",
			Help:      "Appointment writes by outcome.",
		}, []string{"outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "booking",
			Name:      "emails_total",
			Help:      "Booking emails by kind and delivery status.",
		}, []string{"kind", "status"}),
	}
	reg.MustRegister(m.slotComputations, m.slotsOffered, m.bookings, m.emails)
	return m
}

func (m *Booking) ObserveSlotComputation(degraded bool, offered int) {
	if m == nil {
		return
	}
	m.slotComputations.WithLabelValues(strconv.FormatBool(degraded)).Inc()
	m.slotsOffered.Set(float64(offered))
}

func (m *Booking) ObserveEmail(kind, status string) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(kind, status).Inc()
}

func (m *Booking) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}
