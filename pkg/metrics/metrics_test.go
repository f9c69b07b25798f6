package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageMetrics(t *testing.T) {
	S3OperationsTotal.Reset()
	StorageOperationErrors.Reset()

	S3OperationsTotal.WithLabelValues("COPY", "success").Inc()
	S3OperationsTotal.WithLabelValues("COPY", "success").Inc()
	S3OperationsTotal.WithLabelValues("TAG", "error").Inc()
	StorageOperationErrors.WithLabelValues("TAG", "access_denied").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(S3OperationsTotal.WithLabelValues("COPY", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(S3OperationsTotal.WithLabelValues("TAG", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(StorageOperationErrors.WithLabelValues("TAG", "access_denied")))
}

func TestPrometheusHTTPHandler(t *testing.T) {
	EmailsFiledTotal.Reset()
	EmailsFiledTotal.WithLabelValues("success").Add(3)

	server := httptest.NewServer(promhttp.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mailfiler_emails_filed_total{result="success"} 3`)
}

func TestPushFrom(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfiler_test_pushed_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	require.NoError(t, PushFrom(reg, gateway.URL, "mailfiler", "stream-1", time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/mailfiler/instance/stream-1", path)
	assert.NotEmpty(t, body)
}

func TestPushFrom_NoURL(t *testing.T) {
	assert.NoError(t, PushFrom(prometheus.NewRegistry(), "", "mailfiler", "", 0))
}

func TestPushFrom_GatewayError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfiler_test_failed_total", Help: "test"}))

	err := PushFrom(reg, gateway.URL, "mailfiler", "", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), gateway.URL)
}
