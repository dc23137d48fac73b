package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("register", "200")
	m.ObserveRequest("register", "200")
	m.ObserveRequest("check", "403")
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.QuotaConsumed()
	m.CacheRefreshed(true, 3, 4)
	m.CacheRefreshed(false, 0, 0)
	m.CacheBackfilled("device")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("register", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("check", "403")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRefresh.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheRefresh.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cacheEntries.WithLabelValues("device")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cacheEntries.WithLabelValues("product")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("ping", "pong")
		m.ConnOpened()
		m.ConnClosed()
		m.QuotaConsumed()
		m.CacheRefreshed(true, 1, 1)
		m.CacheBackfilled("product")
	})
}
