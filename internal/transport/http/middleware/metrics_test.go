package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arklim/token-revocation/internal/core/domain"
)

func newMeteredRouter(t *testing.T, checker RevocationChecker) (*gin.Engine, *HTTPMetrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("failed to create http metrics: %v", err)
	}

	router := gin.New()
	router.Use(metrics.Handler())
	router.POST("/logout", RequireNotRevoked(checker), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router, metrics
}

func TestHTTPMetricsHandlerRecordsRequests(t *testing.T) {
	router, metrics := newMeteredRouter(t, &stubChecker{outcome: domain.CheckOutcomeMiss})

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer live")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}

	labels := prometheus.Labels{"method": http.MethodPost, "route": "/logout", "status": "204"}
	if got := testutil.ToFloat64(metrics.Requests.With(labels)); got != 1 {
		t.Fatalf("expected request counter 1, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
		t.Fatalf("expected in-flight gauge to return to 0, got %f", got)
	}
	if samples := testutil.CollectAndCount(metrics.Duration); samples == 0 {
		t.Fatalf("expected histogram collector to have at least one sample")
	}
	if samples := testutil.CollectAndCount(metrics.Rejections); samples != 0 {
		t.Fatalf("live credential must not count as a rejection, got %d series", samples)
	}
}

func TestHTTPMetricsHandlerCountsRevokedRejections(t *testing.T) {
	router, metrics := newMeteredRouter(t, &stubChecker{outcome: domain.CheckOutcomeFailSecure})

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer unknown")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(metrics.Rejections.WithLabelValues("/logout", "fail_secure")); got != 1 {
		t.Fatalf("expected one fail_secure rejection, got %f", got)
	}
}

func TestHTTPMetricsUnmatchedRouteLabel(t *testing.T) {
	router, metrics := newMeteredRouter(t, &stubChecker{outcome: domain.CheckOutcomeMiss})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	labels := prometheus.Labels{"method": http.MethodGet, "route": "unmatched", "status": "404"}
	if got := testutil.ToFloat64(metrics.Requests.With(labels)); got != 1 {
		t.Fatalf("expected unmatched request to be counted once, got %f", got)
	}
}

func TestHTTPMetricsHandlerNoopWhenNil(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use((*HTTPMetrics)(nil).Handler())
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
