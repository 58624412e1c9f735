package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveRequest("bet", "ok", time.Millisecond)
	c.SpinStarted("paid")
	c.SpinFailed("network")
	c.Transition("idle", "request_in_flight")
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SpinStarted("paid")
	c.SpinStarted("paid")
	c.SpinStarted("init_free")
	c.SpinFailed("insufficient_balance")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.spins.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.spins.WithLabelValues("init_free")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("insufficient_balance")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveRequest("balance", "ok", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "slotclient_backend_requests_total"))
}
