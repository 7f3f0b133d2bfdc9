package capture

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the loop's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	iterations *prometheus.CounterVec
	wait       prometheus.Histogram
	process    prometheus.Histogram
}

// NewMetrics registers the capture collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depthcapture",
			Name:      "iterations_total",
			Help:      "Capture loop iterations by outcome.",
		}, []string{"outcome"}),
		wait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "depthcapture",
			Name:      "frame_wait_seconds",
			Help:      "Time blocked waiting for a frame pair.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		process: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "depthcapture",
			Name:      "frame_process_seconds",
			Help:      "Time spent aligning, converting, writing and displaying a frame pair.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}
	m.wait.Observe(d.Seconds())
}

func (m *Metrics) observeProcess(d time.Duration) {
	if m == nil {
		return
	}
	m.process.Observe(d.Seconds())
}
