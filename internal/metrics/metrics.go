// Package metrics holds the attester/relayer process's Prometheus
// collectors as one explicit struct handed to each component at
// construction, rather than the package-level promauto globals the
// teacher's internal/monitoring uses — the "global mutable state"
// design note calls this out explicitly, and an explicit struct is
// also what lets tests build an isolated registry per case.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics is the full set of collectors one process (attester or
// relayer) registers. Fields are exported so components can record
// directly without a facade method per metric.
type Metrics struct {
	Registry *prometheus.Registry

	EventsObserved   *prometheus.CounterVec // source_domain
	AttestationsSigned *prometheus.CounterVec // source_domain, destination_domain
	AttestationsReady  *prometheus.CounterVec // destination_domain
	ErrorsTotal        *prometheus.CounterVec // type, source

	AttestationsPending prometheus.Gauge
	AttestationsReadyGauge prometheus.Gauge
	AttestationsRelayed prometheus.Gauge

	StoreSweepEvicted prometheus.Counter

	SubmissionsTotal *prometheus.CounterVec // destination_domain, result
	SubmissionLatency *prometheus.HistogramVec // destination_domain

	FetcherPollDuration *prometheus.HistogramVec // service_url
	FetcherServiceHealthy *prometheus.GaugeVec    // service_url
}

// New builds a Metrics bound to a fresh registry. namespace prefixes
// every metric name, matching the teacher's "bridge_" prefix convention
// but parameterized so an attester and a relayer process in the same
// scrape target don't collide.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EventsObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_observed_total",
			Help:      "Raw chain events observed by source domain.",
		}, []string{"source_domain"}),
		AttestationsSigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestations_signed_total",
			Help:      "Partial signatures produced by source/destination domain.",
		}, []string{"source_domain", "destination_domain"}),
		AttestationsReady: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestations_ready_total",
			Help:      "Attestations that crossed signature threshold, by destination domain.",
		}, []string{"destination_domain"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Classified errors by kind and originating component.",
		}, []string{"type", "source"}),
		AttestationsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attestations_pending",
			Help:      "Attestations currently below signature threshold.",
		}),
		AttestationsReadyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attestations_ready",
			Help:      "Attestations at or past threshold, not yet relayed.",
		}),
		AttestationsRelayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attestations_relayed",
			Help:      "Attestations marked relayed.",
		}),
		StoreSweepEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_sweep_evicted_total",
			Help:      "Expired pending attestations evicted by Sweep.",
		}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Destination submissions by domain and terminal result.",
		}, []string{"destination_domain", "result"}),
		SubmissionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_latency_seconds",
			Help:      "Time from queued to confirmed/rejected.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"destination_domain"}),
		FetcherPollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetcher_poll_duration_seconds",
			Help:      "Time taken to poll one attester service's ready set.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service_url"}),
		FetcherServiceHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetcher_service_healthy",
			Help:      "1 if the last poll of this service succeeded, else 0.",
		}, []string{"service_url"}),
	}

	reg.MustRegister(
		m.EventsObserved,
		m.AttestationsSigned,
		m.AttestationsReady,
		m.ErrorsTotal,
		m.AttestationsPending,
		m.AttestationsReadyGauge,
		m.AttestationsRelayed,
		m.StoreSweepEvicted,
		m.SubmissionsTotal,
		m.SubmissionLatency,
		m.FetcherPollDuration,
		m.FetcherServiceHealthy,
	)
	return m
}

// Handler returns the http.Handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
