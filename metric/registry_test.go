package metric

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanket-mindstix/liota/health"
)

func gatherNames(t *testing.T, registry *MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry.CoreMetrics())
	registry.CoreMetrics().RecordTransportStatus("mqtt", 2)

	families := gatherNames(t, registry)
	assert.Contains(t, families, "liota_transport_status")
	assert.Contains(t, families, "go_goroutines")
}

func TestMetricsRegistry_RegisterAndDuplicate(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_puts_total", Help: "puts"})
	require.NoError(t, registry.RegisterCounter("queue", "puts_total", counter))

	err := registry.RegisterCounter("queue", "puts_total", counter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_depth", Help: "depth"})
	require.NoError(t, registry.RegisterGauge("queue", "depth", gauge))
	gauge.Set(4)

	families := gatherNames(t, registry)
	require.Contains(t, families, "queue_depth")
	assert.Equal(t, 4.0, families["queue_depth"].GetMetric()[0].GetGauge().GetValue())
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "same_total", Help: "a"})
	b := prometheus.NewCounter(prometheus.CounterOpts{Name: "same_total", Help: "a"})

	require.NoError(t, registry.RegisterCounter("svc-a", "same_total", a))
	err := registry.RegisterCounter("svc-b", "same_total", b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "tmp_gauge", Help: "tmp"}, []string{"k"})
	require.NoError(t, registry.RegisterGaugeVec("svc", "tmp_gauge", vec))

	assert.True(t, registry.Unregister("svc", "tmp_gauge"))
	assert.False(t, registry.Unregister("svc", "tmp_gauge"))

	require.NoError(t, registry.RegisterGaugeVec("svc", "tmp_gauge", vec))
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordMessagePublished("mqtt", 1)
	m.RecordMessagePublished("mqtt", 1)
	m.RecordRegistration("iotcc", "Device", nil, 10*time.Millisecond)
	m.RecordRegistration("iotcc", "Device", errors.New("x"), time.Second)
	m.RecordRegistrationAttempt("iotcc")
	m.RecordBatch("awsiot", nil)
	m.RecordSample("TempC", true)
	m.RecordSample("TempC", false)
	m.RecordCacheWrite("iotcc", errors.New("disk"))
	m.RecordHealthStatus("transport", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("mqtt", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("iotcc", "Device", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("iotcc", "Device", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesCollected.WithLabelValues("TempC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesSkipped.WithLabelValues("TempC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheWrites.WithLabelValues("iotcc", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("transport")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransportStatus("mqtt", 1)
		m.RecordBatch("iotcc", nil)
		m.RecordCacheWrite("iotcc", nil)
	})
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("transport", "connected")

	srv := NewServer("", "", registry, monitor)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	monitor.UpdateUnhealthy("transport", "lost")
	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
