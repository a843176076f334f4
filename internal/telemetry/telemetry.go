// ABOUTME: Fire-and-forget telemetry emitter backed by Prometheus counters
// ABOUTME: RecordEvent never blocks the caller; a nop emitter is provided for tests

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Emitter records named gateway events. Implementations must never block the
// hot path; dropping an event is preferable to stalling a connection.
type Emitter interface {
	RecordEvent(name string, tags map[string]string)
}

// PrometheusEmitter implements Emitter with a labeled counter vec on a
// dedicated registry.
type PrometheusEmitter struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

// NewPrometheusEmitter creates an emitter with its own registry.
func NewPrometheusEmitter() *PrometheusEmitter {
	reg := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_gateway_events_total",
			Help: "Count of gateway events by name and protocol.",
		},
		[]string{"event", "protocol"},
	)
	reg.MustRegister(events)
	return &PrometheusEmitter{registry: reg, events: events}
}

// RecordEvent increments the counter for the event. Only the "protocol" tag
// is mapped to a label; other tags are ignored to keep cardinality bounded.
func (p *PrometheusEmitter) RecordEvent(name string, tags map[string]string) {
	protocol := tags["protocol"]
	if protocol == "" {
		protocol = "unknown"
	}
	p.events.WithLabelValues(name, protocol).Inc()
}

// Handler returns the scrape handler for this emitter's registry.
func (p *PrometheusEmitter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Nop is an Emitter that discards all events.
type Nop struct{}

// RecordEvent discards the event.
func (Nop) RecordEvent(string, map[string]string) {}
