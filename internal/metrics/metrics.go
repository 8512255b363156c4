package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	polls           *prometheus.CounterVec // poll cycles by outcome
	pollDuration    prometheus.Histogram   // time spent in one poll cycle
	ipLookups       *prometheus.CounterVec // public ip endpoint lookups
	dnsRequests     *prometheus.CounterVec // dns provider requests
	lastUpdate      prometheus.Gauge       // unix time of the last confirmed publish
	historyRequests *prometheus.CounterVec // badgerdb journal requests
}

func (m *Metrics) IncPoll(outcome string) {
	if !isValidOutcome(outcome) {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPollDuration(duration time.Duration) {
	m.pollDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncIPLookup(endpoint string, success bool) {
	if endpoint == "" {
		return
	}
	m.ipLookups.WithLabelValues(endpoint, boolToResult(success)).Inc()
}

func (m *Metrics) IncDNSRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.dnsRequests.WithLabelValues(operation, boolToResult(success)).Inc()
}

func (m *Metrics) SetLastUpdate(t time.Time) {
	m.lastUpdate.Set(float64(t.Unix()))
}

func (m *Metrics) IncHistoryRequest(operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	m.historyRequests.WithLabelValues(operation, boolToResult(success)).Inc()
}

func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "zone", "read", "update", "append", "list":
		return true
	}
	return false
}

func isValidOutcome(outcome string) bool {
	switch outcome {
	case "unchanged", "updated", "resolution_failed", "update_failed":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "cloudflare_ddns"

	m := &Metrics{
		registry: registry,

		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of poll cycles by outcome",
		}, []string{"outcome"}),

		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of poll cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		ipLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_lookups_total",
			Help:      "Total public IP endpoint lookups",
		}, []string{"endpoint", "status"}),

		dnsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dns_requests_total",
			Help:      "Total DNS provider requests",
		}, []string{"operation", "status"}),

		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last record update accepted by the provider",
		}),

		historyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badgerdb_requests_total",
			Help:      "Total badgerdb journal requests",
		}, []string{"operation", "status"}),
	}

	if register {
		registry.MustRegister(
			m.polls,
			m.pollDuration,
			m.ipLookups,
			m.dnsRequests,
			m.lastUpdate,
			m.historyRequests,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
