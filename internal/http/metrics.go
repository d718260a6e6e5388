package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process metrics on a private registry, so tests can
// run servers side by side without double-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	expensesCreated     prometheus.Counter
	expensesDeleted     prometheus.Counter
	balanceComputations prometheus.Counter
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	eventsPublished     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "romana_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "romana_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		expensesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romana_expenses_created_total",
			Help: "Expenses created through the API, recurring rules included.",
		}),
		expensesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romana_expenses_deleted_total",
			Help: "Expenses deleted through the API.",
		}),
		balanceComputations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romana_balance_computations_total",
			Help: "Balance sheet computations, cache misses only.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romana_cache_hits_total",
			Help: "Balance cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "romana_cache_misses_total",
			Help: "Balance cache misses.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "romana_events_published_total",
			Help: "Expense events handed to the broker by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.expensesCreated,
		m.expensesDeleted,
		m.balanceComputations,
		m.cacheHits,
		m.cacheMisses,
		m.eventsPublished,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request. Path is the registered
// route pattern, never the raw URL, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) ExpenseCreated()  { m.expensesCreated.Inc() }
func (m *Metrics) ExpenseDeleted()  { m.expensesDeleted.Inc() }
func (m *Metrics) BalanceComputed() { m.balanceComputations.Inc() }
func (m *Metrics) CacheHit()        { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss()       { m.cacheMisses.Inc() }

// EventPublished records an expense event publish attempt. Outcome is
// "published", "failed" or "skipped" (no broker configured).
func (m *Metrics) EventPublished(outcome string) {
	m.eventsPublished.WithLabelValues(outcome).Inc()
}
