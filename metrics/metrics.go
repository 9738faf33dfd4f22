/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Business counters for the sale ledger and HTTP request metrics. Each
  Metrics value owns its registry so tests and multiple servers in one
  process never collide on registration.

SEE ALSO:
  - api/server.go: Mounts Middleware and Handler
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SalesCreated       *prometheus.CounterVec // by status
	SaleRevenue        prometheus.Counter
	DebtPayments       *prometheus.CounterVec // by scope: sale | client
	DebtCollected      prometheus.Counter
	SalesCancelled     prometheus.Counter
	StockRejections    prometheus.Counter
	DebtDrift          prometheus.Gauge
	LowStockVariants   prometheus.Gauge
	RequestCounter     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	StatusCategoryHits *prometheus.CounterVec
}

// New registers every collector under the given namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SalesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_created_total",
			Help:      "Sales created, by initial status",
		}, []string{"status"}),
		SaleRevenue: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_revenue_total",
			Help:      "Sum of sale totals at creation",
		}),
		DebtPayments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debt_payments_total",
			Help:      "Debt payments accepted, by scope",
		}, []string{"scope"}),
		DebtCollected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debt_collected_total",
			Help:      "Sum of accepted debt payments",
		}),
		SalesCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_cancelled_total",
			Help:      "Sales cancelled",
		}),
		StockRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_rejections_total",
			Help:      "Sales rejected for insufficient stock",
		}),
		DebtDrift: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "debt_drift_clients",
			Help:      "Clients whose debt disagrees with their outstanding sales at the last audit",
		}),
		LowStockVariants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_stock_variants",
			Help:      "Variants at or below their reorder level at the last scan",
		}),
		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		StatusCategoryHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_status_category_total",
			Help:      "Responses by status category (2xx, 4xx, 5xx)",
		}, []string{"category"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency. The path label is the chi
// route pattern so IDs do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		statusStr := strconv.Itoa(status)
		m.RequestCounter.WithLabelValues(r.Method, path, statusStr).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path, statusStr).Observe(time.Since(start).Seconds())
		if category := statusCategory(status); category != "" {
			m.StatusCategoryHits.WithLabelValues(category).Inc()
		}
	})
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	}
	return ""
}
