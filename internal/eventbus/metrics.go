package eventbus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics exposes Bus activity to Prometheus, grounded on the teacher's
// internal/canvas.Metrics sync.Once-guarded singleton: every Bus in a
// process shares one set of collectors, registered exactly once, so
// constructing a Bus repeatedly in tests doesn't panic on double
// registration the way a fresh promauto call per instance would.
type metrics struct {
	eventsPublished   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	activeSubscribers prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *metrics
)

func busMetrics() *metrics {
	metricsOnce.Do(func() {
		metricsInstance = &metrics{
			eventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agentrt_eventbus_events_published_total",
				Help: "Total events durably appended and fanned out, by channel.",
			}, []string{"channel"}),
			eventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "agentrt_eventbus_events_dropped_total",
				Help: "Total events dropped to a subscriber under backpressure, by channel.",
			}, []string{"channel"}),
			activeSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "agentrt_eventbus_active_subscribers",
				Help: "Current number of live event bus subscribers across all agents.",
			}),
		}
	})
	return metricsInstance
}
