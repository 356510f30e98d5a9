package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JaimeStill/marker/pkg/metrics"
)

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "test_total",
		Help:      "Test counter.",
	}, []string{"kind"})
}

func TestRegisterReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := metrics.Register(reg, newCounter())
	second := metrics.Register(reg, newCounter())

	if first != second {
		t.Error("second registration did not return the existing collector")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := metrics.NewRegistry()
	c := metrics.Register(reg, newCounter())
	c.WithLabelValues("a").Inc()

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `marker_test_total{kind="a"} 1`) {
		t.Errorf("exposition missing counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing runtime collectors")
	}
}
