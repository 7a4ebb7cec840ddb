// Package metrics exposes Prometheus metrics for HTTP traffic, provider calls
// and conversation trees. Each Collector owns its registry so several can
// coexist in one process.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "conflict_sim"

const (
	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusError    = "error"
)

type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec

	treesActive     prometheus.Gauge
	nodesTotal      prometheus.Counter
	treeEventsTotal *prometheus.CounterVec
	interventions   *prometheus.CounterVec
}

var _ conversation.EventSink = (*Collector)(nil)

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.providerRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider calls",
		},
		[]string{"provider", "operation", "status"},
	)

	c.providerRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)

	c.treesActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversation_trees",
		Help:      "Number of conversation trees currently held",
	})

	c.nodesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_nodes_total",
		Help:      "Total number of nodes added to conversation trees",
	})

	c.treeEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Total number of tree events by type",
		},
		[]string{"type"},
	)

	c.interventions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interventions_total",
			Help:      "Total number of applied interventions",
		},
		[]string{"type"},
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) RecordProviderRequest(provider, operation, status string, duration time.Duration) {
	c.providerRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	c.providerRequestDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

func (c *Collector) RecordIntervention(kind string) {
	c.interventions.WithLabelValues(kind).Inc()
}

func (c *Collector) HandleTreeEvent(event conversation.TreeEvent) {
	c.treeEventsTotal.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case conversation.EventTreeCreated:
		c.treesActive.Inc()
	case conversation.EventTreeDeleted:
		c.treesActive.Dec()
	case conversation.EventNodeAdded:
		c.nodesTotal.Inc()
	case conversation.EventBranchSwitched:
	}
}
