// Package metrics exposes Prometheus instruments for the node.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Transactions  *prometheus.CounterVec
	Settlements   prometheus.Counter
	FeeEvents     *prometheus.CounterVec
	BlockDuration prometheus.Histogram
	BlockHeight   prometheus.Gauge
	OrderCount    prometheus.Gauge
	MempoolSize   prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
	WSClients     prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hyperswap_transactions_total",
				Help: "Transactions executed, by type and status.",
			},
			[]string{"type", "status"},
		),
		Settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hyperswap_settlements_total",
			Help: "Orders filled.",
		}),
		FeeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hyperswap_fee_events_total",
				Help: "Fills that credited a non-zero fee, by fee token.",
			},
			[]string{"token"},
		),
		BlockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyperswap_block_apply_seconds",
			Help:    "Time to execute and persist a block.",
			Buckets: prometheus.DefBuckets,
		}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperswap_block_height",
			Help: "Last committed block height.",
		}),
		OrderCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperswap_order_count",
			Help: "Orders ever created.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperswap_mempool_size",
			Help: "Pending transactions.",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hyperswap_http_requests_total",
				Help: "HTTP requests, by route and status.",
			},
			[]string{"route", "status"},
		),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hyperswap_ws_clients",
			Help: "Connected websocket clients.",
		}),
	}

	registry.MustRegister(
		m.Transactions, m.Settlements, m.FeeEvents, m.BlockDuration,
		m.BlockHeight, m.OrderCount, m.MempoolSize, m.HTTPRequests, m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTx(txType, status string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) ObserveFill(feeToken string, feeCharged bool) {
	if m == nil {
		return
	}
	m.Settlements.Inc()
	if feeCharged {
		m.FeeEvents.WithLabelValues(feeToken).Inc()
	}
}

func (m *Metrics) ObserveBlock(height int64, duration time.Duration, orderCount uint64) {
	if m == nil {
		return
	}
	m.BlockDuration.Observe(duration.Seconds())
	m.BlockHeight.Set(float64(height))
	m.OrderCount.Set(float64(orderCount))
}

func (m *Metrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.MempoolSize.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, http.StatusText(status)).Inc()
}

func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}
