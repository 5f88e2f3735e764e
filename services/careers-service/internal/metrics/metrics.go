package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeReady  = "ready"
	OutcomeFailed = "failed"
)

type Documents struct {
	runs      *prometheus.CounterVec
	duration  prometheus.Histogram
	fallbacks *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Documents {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Documents{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "careers",
			Name:      "documents_generated_total",
			Help:      "Document pipeline runs by outcome and drafter used.",
		}, []string{"outcome", "drafter"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studio",
			Subsystem: "careers",
			Name:      "documents_duration_seconds",
			Help:      "Document pipeline run duration.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "careers",
			Name:      "drafter_fallbacks_total",
			Help:      "Cover letters drafted by the template after the AI drafter failed.",
		}, []string{"primary"}),
	}
	reg.MustRegister(m.runs, m.duration, m.fallbacks)
	return m
}

func (m *Documents) ObserveRun(outcome, drafter string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome, drafter).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Documents) ObserveFallback(primary string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(primary).Inc()
}
