// Package fsmetrics records filesystem operation metrics with
// prometheus. A Recorder plugs into the host through the
// winfs.Metrics option and observes every dispatched operation.
package fsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirrorfs/winfs"
)

var _ winfs.InflightRecorder = (*Recorder)(nil)

// Recorder counts operations by outcome and tracks their
// latency distribution.
type Recorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	inflight   prometheus.Gauge
}

// New builds a recorder registered with the given registerer,
// typically prometheus.DefaultRegisterer. The namespace
// prefixes every metric name.
func New(namespace string, reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fs",
				Name:      "operations_total",
				Help:      "Dispatched filesystem operations by result.",
			},
			[]string{"op", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "fs",
				Name:      "operation_duration_seconds",
				Help:      "Filesystem operation latency.",
				Buckets: prometheus.ExponentialBuckets(
					50e-6, 4, 10),
			},
			[]string{"op"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "operations_inflight",
			Help:      "Filesystem operations currently dispatched.",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.operations, r.latency, r.inflight)
	}
	return r
}

// Observe records one completed operation.
func (r *Recorder) Observe(op string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.operations.WithLabelValues(op, result).Inc()
	r.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Track marks an operation as started, returning the callback
// that marks it finished. Used by callers that want the
// in-flight gauge in addition to Observe.
func (r *Recorder) Track() func() {
	r.inflight.Inc()
	return r.inflight.Dec
}
