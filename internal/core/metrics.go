package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "freebooter"

// Metrics holds the engine's Prometheus collectors. Each engine owns its own
// registry so tests and multiple engines never collide.
type Metrics struct {
	registry *prometheus.Registry

	discovered      *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	emitted         *prometheus.CounterVec
	pollFailures    *prometheus.CounterVec
	publish         *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		discovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_discovered_total",
			Help:      "Candidates yielded by a watcher's source.",
		}, []string{"watcher"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_skipped_total",
			Help:      "Candidates a watcher did not emit, by reason.",
		}, []string{"watcher", "reason"}),
		emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_emitted_total",
			Help:      "Items a watcher handed to the engine.",
		}, []string{"watcher"}),
		pollFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Polls that failed after every retry.",
		}, []string{"watcher"}),
		publish: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish outcomes per uploader.",
		}, []string{"uploader", "result"}),
		publishDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing one item, retries included.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"uploader"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_queue_depth",
			Help:      "Items waiting in an uploader's worker queue.",
		}, []string{"uploader"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Buffered is implemented by stages that hold items between calls.
type Buffered interface {
	Name() string
	Buffered() int
}

// TrackBuffered exports how many items stage is holding. Tracking the same
// stage name twice is a no-op.
func (m *Metrics) TrackBuffered(stage Buffered) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "collector_buffered",
		Help:        "Items held by a buffering stage.",
		ConstLabels: prometheus.Labels{"stage": stage.Name()},
	}, func() float64 {
		return float64(stage.Buffered())
	})

	if err := m.registry.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}
