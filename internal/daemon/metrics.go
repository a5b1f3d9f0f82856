package daemon

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the daemon's operational counters.
type Metrics struct {
	Updates    prometheus.Counter
	PollErrors prometheus.Counter
	BoundNsec  prometheus.Gauge
	Status     prometheus.Gauge
	PollRTT    prometheus.Histogram
}

// NewMetrics builds the daemon metric set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clockbound_shm_updates_total",
			Help: "Number of shared memory segment updates published.",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clockbound_poll_errors_total",
			Help: "Number of failed reference clock polls.",
		}),
		BoundNsec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clockbound_bound_nanoseconds",
			Help: "Most recently published clock error bound.",
		}),
		Status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clockbound_clock_status",
			Help: "Most recently published clock status (0 unknown, 1 synchronized, 2 free running, 3 disrupted).",
		}),
		PollRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clockbound_poll_rtt_seconds",
			Help:    "Round trip time of reference clock polls.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	reg.MustRegister(m.Updates, m.PollErrors, m.BoundNsec, m.Status, m.PollRTT)
	return m
}
