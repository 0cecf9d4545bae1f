package fit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts sampler work. A nil *Metrics records nothing.
type Metrics struct {
	Evaluations prometheus.Counter
	Rejected    prometheus.Counter
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// NewMetrics registers the fit metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Evaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbmbkg_fit_likelihood_evaluations_total",
			Help: "Likelihood evaluations requested by the sampler",
		}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "gbmbkg_fit_likelihood_rejected_total",
			Help: "Likelihood evaluations that returned -Inf",
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gbmbkg_fit_runs_total",
			Help: "Finished driver runs by mode and outcome",
		}, []string{"mode", "outcome"}), // mode: "run", "load"; outcome: "ok", "error"
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gbmbkg_fit_run_duration_seconds",
			Help:    "Wall time of sampler runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (m *Metrics) observeEvaluation(rejected bool) {
	if m == nil {
		return
	}
	m.Evaluations.Inc()
	if rejected {
		m.Rejected.Inc()
	}
}

func (m *Metrics) observeRun(mode string, err error, start time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Runs.WithLabelValues(mode, outcome).Inc()
	if mode == modeRun {
		m.RunDuration.Observe(time.Since(start).Seconds())
	}
}
