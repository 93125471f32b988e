package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveMovement("entry", "purchase")
	metrics.ObserveJob("stock:reservation_sweep", "success")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "meridian_stock_movements_total") {
		t.Fatalf("expected body to contain meridian_stock_movements_total, got: %s", body)
	}
	if !strings.Contains(body, "meridian_jobs_total") {
		t.Fatalf("expected body to contain meridian_jobs_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(body, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(body.Body.String(), `meridian_http_requests_total{code="418",route="unknown"} 1`) {
		t.Fatalf("request counter not recorded: %s", body.Body.String())
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveMovement("exit", "sale")
	m.ObserveStockRejection()
	m.ObserveReservationsExpired(3)
	if m.Middleware(nil) != nil {
		t.Fatal("nil metrics middleware should pass-through")
	}
}
