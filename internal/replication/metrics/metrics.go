// Package metrics registers the prometheus collectors the replication
// engine exposes: per-remote task counts and push latency, in place of
// a single virtual storage's replication-job metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a subset of a prometheus Gauge.
type Gauge interface {
	Inc()
	Dec()
}

// Histogram is a subset of a prometheus Histogram.
type Histogram interface {
	Observe(float64)
}

var (
	// TasksInFlight tracks the number of batch pushes (one per URI, each
	// covering one or more tasks) currently running, labelled by remote.
	TasksInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replication",
			Name:      "tasks_in_flight",
			Help:      "Number of replication pushes currently running, by remote.",
		},
		[]string{"remote"},
	)

	// PushLatency observes the wall-clock time of a single push
	// attempt, labelled by remote and outcome.
	PushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "replication",
			Name:      "push_latency_seconds",
			Help:      "Latency of a single destination push attempt.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"remote", "outcome"},
	)

	// TasksTotal counts completed tasks, labelled by remote and
	// disposition (success or permanent; a transient failure that is
	// retried is not counted).
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replication",
			Name:      "tasks_total",
			Help:      "Replication tasks completed, by remote and disposition.",
		},
		[]string{"remote", "disposition"},
	)
)

// Register registers every collector in this package with the default
// registry. Collectors that are already registered are skipped, so a
// second call returns nil.
func Register() error {
	for _, c := range []prometheus.Collector{TasksInFlight, PushLatency, TasksTotal} {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
