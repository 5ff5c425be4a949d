package capture

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a capture. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	samplesIn    *prometheus.CounterVec // samples entering each density stage
	periodograms *prometheus.CounterVec // periodograms averaged per stage
	saves        prometheus.Counter     // spectrum files written
	queueDepth   prometheus.Gauge       // blocks waiting for the worker
	queueSoftMax prometheus.Gauge       // current soft limit of the queue
	pushDuration prometheus.Histogram   // time spent in one pipeline push
	steps        *prometheus.CounterVec // finished steps by result
}

// NewMetrics registers the capture collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		samplesIn: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lsd",
				Name:      "samples_in_total",
				Help:      "Samples pushed into a density stage",
			},
			[]string{"stage"},
		),
		periodograms: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lsd",
				Name:      "periodograms_total",
				Help:      "Periodograms averaged by a density stage",
			},
			[]string{"stage"},
		),
		saves: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lsd",
				Name:      "spectrum_saves_total",
				Help:      "Per-stage spectrum files written",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lsd",
				Name:      "queue_depth",
				Help:      "Sample blocks waiting for the pipeline",
			},
		),
		queueSoftMax: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lsd",
				Name:      "queue_soft_max",
				Help:      "Current soft limit of the sample queue",
			},
		),
		pushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "lsd",
				Name:      "push_duration_seconds",
				Help:      "Time spent pushing one producer block through the pipeline",
				Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
		),
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lsd",
				Name:      "steps_total",
				Help:      "Finished capture steps by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) SamplesIn(stage int, n int) {
	if m == nil {
		return
	}
	m.samplesIn.WithLabelValues(strconv.Itoa(stage)).Add(float64(n))
}

func (m *Metrics) Periodogram(stage int) {
	if m == nil {
		return
	}
	m.periodograms.WithLabelValues(strconv.Itoa(stage)).Inc()
}

func (m *Metrics) Saved(int) {
	if m == nil {
		return
	}
	m.saves.Inc()
}

func (m *Metrics) observePush(d time.Duration) {
	if m == nil {
		return
	}
	m.pushDuration.Observe(d.Seconds())
}

func (m *Metrics) setQueue(depth, softMax int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
	m.queueSoftMax.Set(float64(softMax))
}

func (m *Metrics) stepDone(result string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(result).Inc()
}
