// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "giftgate"

// Metrics 汇总服务暴露的 Prometheus 指标。所有方法对 nil 接收者安全，单测里可以直接传 nil。
type Metrics struct {
	requests      *prometheus.CounterVec
	connections   prometheus.Gauge
	consumed      prometheus.Counter
	cacheRefresh  *prometheus.CounterVec
	cacheEntries  *prometheus.GaugeVec
	cacheBackfill *prometheus.CounterVec
}

// New 在给定的 Registerer 上注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Protocol requests by command and reply status.",
		}, []string{"command", "status"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Currently open terminal connections.",
		}),
		consumed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_consumed_total",
			Help:      "Quota units consumed through the atomic decrement.",
		}),
		cacheRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refresh_total",
			Help:      "Reference cache full refreshes by result.",
		}, []string{"result"}),
		cacheEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Identifiers held by the reference cache.",
		}, []string{"kind"}),
		cacheBackfill: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_backfill_total",
			Help:      "Single identifiers added to the cache after a point lookup.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveRequest(command, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(command, status).Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) QuotaConsumed() {
	if m == nil {
		return
	}
	m.consumed.Inc()
}

func (m *Metrics) CacheRefreshed(ok bool, devices, products int) {
	if m == nil {
		return
	}
	if !ok {
		m.cacheRefresh.WithLabelValues("error").Inc()
		return
	}
	m.cacheRefresh.WithLabelValues("ok").Inc()
	m.cacheEntries.WithLabelValues("device").Set(float64(devices))
	m.cacheEntries.WithLabelValues("product").Set(float64(products))
}

func (m *Metrics) CacheBackfilled(kind string) {
	if m == nil {
		return
	}
	m.cacheBackfill.WithLabelValues(kind).Inc()
	m.cacheEntries.WithLabelValues(kind).Inc()
}
