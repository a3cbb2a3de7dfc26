package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports the pipeline metrics on its own registry.
type Prometheus struct {
	Registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	lookups         *prometheus.HistogramVec
	upserts         prometheus.Histogram
	webhooks        *prometheus.CounterVec
	orders          *prometheus.CounterVec
	orderDuration   *prometheus.HistogramVec
	publishes       *prometheus.HistogramVec
	tokenRefreshes  *prometheus.CounterVec
	resolutionMiss  prometheus.Counter
	cacheOperations *prometheus.CounterVec
}

var msBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_ms", Help: "HTTP request duration in ms.", Buckets: msBuckets},
			[]string{"method", "path"},
		),
		lookups: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "order_lookup_duration_ms", Help: "Order read latency by source.", Buckets: msBuckets},
			[]string{"source"},
		),
		upserts: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "order_upsert_duration_ms", Help: "Persisted order upsert latency.", Buckets: msBuckets},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "webhooks_total", Help: "Inbound webhooks by result."},
			[]string{"result"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orders_processed_total", Help: "Queue messages by pipeline outcome."},
			[]string{"outcome"},
		),
		orderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "order_processing_duration_ms", Help: "Pipeline duration per message.", Buckets: msBuckets},
			[]string{"outcome"},
		),
		publishes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "downstream_publish_duration_ms", Help: "Downstream push latency by result.", Buckets: msBuckets},
			[]string{"result"},
		),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "token_refreshes_total", Help: "Identity exchanges by result."},
			[]string{"result"},
		),
		resolutionMiss: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "menu_resolution_misses_total", Help: "Cart entries with no catalog match."},
		),
		cacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "order_cache_total", Help: "Order read cache hits and misses."},
			[]string{"result"},
		),
	}
	p.Registry.MustRegister(
		p.httpRequests, p.httpDuration, p.lookups, p.upserts, p.webhooks, p.orders,
		p.orderDuration, p.publishes, p.tokenRefreshes, p.resolutionMiss, p.cacheOperations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveLookup(source string, cacheMs, dbMs float64) {
	p.lookups.WithLabelValues(source).Observe(cacheMs + dbMs)
}

func (p *Prometheus) ObserveUpsert(dbWriteMs float64) { p.upserts.Observe(dbWriteMs) }

func (p *Prometheus) ObserveHTTP(method, route string, status int, durMs float64) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(durMs)
}

func (p *Prometheus) ObserveWebhook(result string) { p.webhooks.WithLabelValues(result).Inc() }

func (p *Prometheus) ObserveOrder(outcome string, processMs float64) {
	p.orders.WithLabelValues(outcome).Inc()
	p.orderDuration.WithLabelValues(outcome).Observe(processMs)
}

func (p *Prometheus) ObservePublish(result string, durMs float64) {
	p.publishes.WithLabelValues(result).Observe(durMs)
}

func (p *Prometheus) IncTokenRefresh(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	p.tokenRefreshes.WithLabelValues(result).Inc()
}

func (p *Prometheus) IncResolutionMiss() { p.resolutionMiss.Inc() }
func (p *Prometheus) IncCacheHit()       { p.cacheOperations.WithLabelValues("hit").Inc() }
func (p *Prometheus) IncCacheMiss()      { p.cacheOperations.WithLabelValues("miss").Inc() }

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{Registry: p.Registry})
}
