package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Jobs struct {
	runs     *prometheus.CounterVec
	affected *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Jobs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Jobs{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "scheduler",
			Name:      "job_rows_total",
			Help:      "Rows touched by scheduled jobs.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.affected)
	return m
}

func (m *Jobs) ObserveRun(job string, affected int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.affected.WithLabelValues(job).Add(float64(affected))
}
