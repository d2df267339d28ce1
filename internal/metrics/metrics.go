package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewhub"

// Provider request outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
)

// Recorder owns the service collectors on a dedicated registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry         *prometheus.Registry
	providerRequests *prometheus.CounterVec
	published        *prometheus.CounterVec
	snapshotLookups  *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
}

// NewRecorder registers the review pipeline collectors plus Go runtime collectors.
func NewRecorder() *Recorder {
	recorder := &Recorder{
		registry: prometheus.NewRegistry(),
		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Review provider requests by outcome.",
			},
			[]string{"outcome"},
		),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reviews_published_total",
				Help:      "Review rows written by publish runs (inserted or updated).",
			},
			[]string{"kind"},
		),
		snapshotLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_lookups_total",
				Help:      "Raw snapshot cache lookups by result (hit or miss).",
			},
			[]string{"result"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_breaker_state",
				Help:      "Provider circuit breaker state (0=closed, 1=half-open, 2=open).",
			},
			[]string{"name"},
		),
	}
	recorder.registry.MustRegister(
		recorder.providerRequests,
		recorder.published,
		recorder.snapshotLookups,
		recorder.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return recorder
}

// ProviderRequest counts one provider call with the given outcome.
func (r *Recorder) ProviderRequest(outcome string) {
	if r == nil {
		return
	}
	r.providerRequests.WithLabelValues(outcome).Inc()
}

// Published adds the counts of one publish run.
func (r *Recorder) Published(inserted, updated int) {
	if r == nil {
		return
	}
	r.published.WithLabelValues("inserted").Add(float64(inserted))
	r.published.WithLabelValues("updated").Add(float64(updated))
}

// SnapshotLookup counts a raw snapshot cache hit or miss.
func (r *Recorder) SnapshotLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.snapshotLookups.WithLabelValues(result).Inc()
}

// BreakerState records the numeric breaker state for name.
func (r *Recorder) BreakerState(name string, state float64) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(name).Set(state)
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
