package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
	errorCount      *prometheus.CounterVec

	trades         *prometheus.CounterVec
	ledgerEntries  *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
	quoteRefreshes prometheus.Counter
}

// NewMetrics registers every collector on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"handler", "method", "status"},
		),
		requestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		errorCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "error_count_total",
				Help:      "Total number of error responses by code",
			},
			[]string{"code"},
		),
		trades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Trades recorded",
			},
			[]string{"side"},
		),
		ledgerEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_entries_total",
				Help:      "Manual ledger entries recorded",
			},
			[]string{"kind"},
		),
		reconciliation: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciled_entries_total",
				Help:      "Derived ledger entries touched by reconciliation",
			},
			[]string{"action"},
		),
		quoteRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quote_refreshes_total",
				Help:      "Quotes written by the refresher",
			},
		),
	}
}

func (m *Metrics) ObserveRequest(handler, method string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(handler, method, code).Observe(duration.Seconds())
	m.requestCount.WithLabelValues(handler, method, code).Inc()
}

func (m *Metrics) ObserveError(code string) {
	m.errorCount.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordTrade(side string) {
	m.trades.WithLabelValues(side).Inc()
}

func (m *Metrics) RecordLedgerEntry(kind string) {
	m.ledgerEntries.WithLabelValues(kind).Inc()
}

// RecordReconcile counts removed and added derived entries.
func (m *Metrics) RecordReconcile(removed, added int) {
	m.reconciliation.WithLabelValues("removed").Add(float64(removed))
	m.reconciliation.WithLabelValues("added").Add(float64(added))
}

func (m *Metrics) RecordQuoteRefresh(n int) {
	m.quoteRefreshes.Add(float64(n))
}

// Middleware observes every request under its route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
